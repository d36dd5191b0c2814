package logging

// FormatSubject builds the entity/run/source subject string used in console output.
func FormatSubject(entityID, runID, source string) string {
	return composeSubject(entityID, runID, source)
}
