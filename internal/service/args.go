package service

import "slices"

// ArgBuilder accumulates an extractor argument vector.
type ArgBuilder struct {
	args []string
}

func NewArgBuilder(args ...string) *ArgBuilder {
	return &ArgBuilder{args: slices.Clone(args)}
}

func (b *ArgBuilder) Add(args ...string) *ArgBuilder {
	b.args = append(b.args, args...)
	return b
}

// Has reports whether flag is already present.
func (b *ArgBuilder) Has(flag string) bool {
	return slices.Contains(b.args, flag)
}

// Build returns the arguments followed by the target URL, after "--" so a
// URL starting with "-" is never read as a flag.
func (b *ArgBuilder) Build(targetURL string) []string {
	out := slices.Clone(b.args)
	return append(out, "--", targetURL)
}
