// Package shadow implements the iterative fixed-point loop that adjusts
// per-zone attractiveness prices until simulated zone totals converge to
// target totals, or the iteration budget runs out. The numeric update rule
// is a pluggable method chosen by configuration; the solver owns only the
// state machine, the convergence test and per-iteration persistence.
package shadow
