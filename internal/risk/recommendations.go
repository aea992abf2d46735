package risk

var recommendationTable = map[Level][]string{
	LevelNone: {
		"No black ice expected; normal driving conditions.",
	},
	LevelLow: {
		"Stay alert on bridges, overpasses and shaded stretches.",
	},
	LevelModerate: {
		"Reduce speed and increase following distance.",
		"Watch for glazed patches on bridges and overpasses.",
	},
	LevelHigh: {
		"Delay travel if possible; black ice is likely.",
		"Reduce speed significantly and avoid sudden braking or steering.",
		"Reduce speed and increase following distance.",
	},
	LevelExtreme: {
		"Avoid travel; black ice is very likely.",
		"If travel is unavoidable, use winter tyres and drive with extreme caution.",
	},
}

// Recommendations returns a copy of the static advice for level.
func Recommendations(level Level) []string {
	recs := recommendationTable[level]
	out := make([]string, len(recs))
	copy(out, recs)
	return out
}
