package config

import "fmt"

// Issue severities.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
)

// Issue is one validation finding, addressed by a dotted config path so the
// operator can locate the field in the JSON file.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

func errf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarn, Path: path, Message: fmt.Sprintf(format, a...)}
}

// Validate checks a normalized pipeline and returns every issue found, not
// just the first, so a bad config can be fixed in one pass. Any
// SeverityError issue makes the config unusable.
func Validate(p Pipeline) []Issue {
	var issues []Issue

	if p.Source.Kind != "file" || p.Source.File == nil || p.Source.File.Path == "" {
		issues = append(issues, errf("source", "source.kind=file and source.file.path are required"))
	}

	switch p.Format {
	case FormatPriceHistory, FormatMetadata:
	case "":
		issues = append(issues, errf("format", "format is required (%s or %s)", FormatPriceHistory, FormatMetadata))
	default:
		issues = append(issues, errf("format", "unknown format %q (viable: %s, %s)", p.Format, FormatPriceHistory, FormatMetadata))
	}

	switch p.Sink.Kind {
	case SinkDir, SinkZip:
	default:
		issues = append(issues, errf("sink.kind", "unknown sink kind %q (viable: %s, %s)", p.Sink.Kind, SinkDir, SinkZip))
	}
	if p.Sink.StagingDir == "" {
		issues = append(issues, errf("sink.staging_dir", "staging_dir is required"))
	}

	if p.Upload.Bucket == "" {
		issues = append(issues, errf("upload.bucket", "bucket is required"))
	}
	if p.Upload.AccessKeyID == "" {
		issues = append(issues, errf("upload.access_key_id", "access_key_id is required"))
	}
	if p.Upload.SecretAccessKey == "" {
		issues = append(issues, errf("upload.secret_access_key", "secret_access_key is required"))
	}
	if p.Upload.Workers == 1 {
		issues = append(issues, warnf("upload.workers", "workers=1 uploads serially; set a higher count for large exports"))
	}

	for leaf, typ := range p.Convert.TypeHints {
		switch typ {
		case "string", "number", "integer", "boolean":
		default:
			issues = append(issues, errf("convert.type_hints", "field %q: unknown type %q", leaf, typ))
		}
	}

	switch p.Ledger.Kind {
	case "none":
	case "sqlite", "postgres", "mssql":
		if p.Ledger.DSN == "" {
			issues = append(issues, errf("ledger.dsn", "dsn is required for ledger kind %q", p.Ledger.Kind))
		}
	default:
		issues = append(issues, errf("ledger.kind", "unknown ledger kind %q", p.Ledger.Kind))
	}

	return issues
}

// HasError reports whether any issue is fatal.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
