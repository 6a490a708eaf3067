package logx

import (
	"io"
	"regexp"
)

var oauthRe = regexp.MustCompile(`(?i)oauth:[^\s"'\\]+`)

// RedactString masks oauth tokens, e.g. "PASS oauth:abc" becomes "PASS oauth:***".
func RedactString(s string) string {
	return oauthRe.ReplaceAllString(s, "oauth:***")
}

type redactWriter struct{ w io.Writer }

// Redact wraps w so every write has oauth tokens masked. The returned count
// is len(p) on success even when the masked output is shorter.
func Redact(w io.Writer) io.Writer {
	if _, ok := w.(redactWriter); ok {
		return w
	}
	return redactWriter{w: w}
}

func (r redactWriter) Write(p []byte) (int, error) {
	if !oauthRe.Match(p) {
		return r.w.Write(p)
	}
	if _, err := r.w.Write(oauthRe.ReplaceAll(p, []byte("oauth:***"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
