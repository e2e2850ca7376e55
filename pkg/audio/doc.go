// Package audio converts between the telephony leg's 8 kHz G.711 μ-law
// encoding and the linear 16-bit PCM the agent leg speaks, including
// sample-rate conversion between the two.
package audio
