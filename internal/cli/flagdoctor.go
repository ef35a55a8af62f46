package cli

// validateFlags centralizes common flag combinations to keep behavior consistent.
func validateFlags(globals *Globals) error {
	if globals == nil {
		return nil
	}
	if globals.Format != "ndjson" && globals.Format != "text" {
		return outputErrorCommon(globals, codeInvalidFlags, "unknown output format: "+globals.Format, "use --format ndjson or --format text")
	}
	// quiet + text is confusing for agents; steer to ndjson
	if globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, codeInvalidFlags, "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}
