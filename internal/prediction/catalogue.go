package prediction

var descriptions = map[string]string{
	"Type 1: Straight": "Smooth strands with minimal bend; can look shiny and may resist curls. " +
		"Use lightweight wash/conditioner and a weightless volumizer.",
	"Type 2: Wavy": "Loose S-shaped pattern; can frizz or fall flat if products are heavy. " +
		"Use light mousse or texturizing spray.",
	"Type 3: Curly": "Defined, springy curls and volume; frizz-prone. " +
		"Use moisture-rich wash, curl cream + gel; leave-in helps.",
	"Type 4: Kinky": "Tight coils/zig-zags; very delicate and dry by nature. " +
		"Use rich creams/butters and oils; coil-defining styler.",
}

// Describe returns care guidance for a known hair-type label, or "".
func Describe(label string) string {
	return descriptions[label]
}
