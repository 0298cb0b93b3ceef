// Package challenge orchestrates asynchronous head-to-head duels. A
// creator's run seeds a deterministic light sequence; opponents accept
// the challenge later, replay the identical sequence, and submit their
// time. The package owns challenge records, replay-reference sessions,
// winner determination, and the ranked leaderboards, with every shared
// aggregate mutated through the storage engine's atomic update cycle.
package challenge
