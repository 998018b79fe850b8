package lib

// resolveRoleARN returns the literal ARN if present, otherwise the first
// line of the ARN file. Resolved once at construction.
func resolveRoleARN(arn, file string) (string, error) {
	if arn != "" {
		return arn, nil
	}
	return firstLine(file, "role arn")
}
