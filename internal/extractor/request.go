package extractor

// Request describes one extractor invocation
type Request struct {
	URL        string
	Format     Format
	Output     string
	CacheDir   string
	TLSRelaxed bool
	Overwrite  bool
	Verbose    bool
}

// Args returns the command line arguments. The URL is always last, after
// "--", so an id that starts with a dash is not read as an option.
func (r Request) Args() []string {
	args := []string{
		"-f", "bestaudio",
		"--extract-audio",
		"--audio-format", r.Format.AudioFormat,
		"--audio-quality", "0",
	}
	if r.CacheDir != "" {
		args = append(args, "--cache-dir", r.CacheDir)
	}
	if r.TLSRelaxed {
		args = append(args, "--no-check-certificate", "--prefer-insecure")
	}
	args = append(args, "-o", r.Output)
	if r.Overwrite {
		args = append(args, "--no-continue")
	}
	args = append(args, "--write-info-json", "--write-thumbnail")
	if r.Verbose {
		args = append(args, "--verbose")
	}
	return append(args, "--", r.URL)
}

// VideoURL returns what the extractor should fetch for a video id
func VideoURL(id string, tlsRelaxed, idOnly bool) string {
	if idOnly {
		return id
	}
	if tlsRelaxed {
		return "http://www.youtube.com/watch?v=" + id
	}
	return "https://www.youtube.com/watch?v=" + id
}
