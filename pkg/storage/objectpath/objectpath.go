// Package objectpath turns the many spellings of a stored file reference
// into a bucket-relative object path.
package objectpath

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var ErrInvalidReference = errors.New("invalid file reference")

// Resolve accepts relative ("plans/a.pdf"), absolute ("/plans/a.pdf"),
// bucket-qualified ("s3://bucket/plans/a.pdf") and public URL
// ("https://host/storage/v1/object/public/bucket/plans/a.pdf") forms.
func Resolve(ref, bucket string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidReference)
	}

	var p string
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		p = fromURL(u, bucket)
	case strings.HasPrefix(ref, "s3://"), strings.HasPrefix(ref, "gs://"):
		rest := ref[len("s3://"):]
		if i := strings.Index(rest, "/"); i >= 0 {
			p = rest[i+1:]
		}
	default:
		p = strings.TrimLeft(ref, "/")
		if bucket != "" {
			p = strings.TrimPrefix(p, bucket+"/")
		}
	}

	p = strings.TrimLeft(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("%w: %q has no object path", ErrInvalidReference, ref)
	}
	return p, nil
}

func fromURL(u *url.URL, bucket string) string {
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	// .../object/public/<bucket>/<path> and .../object/sign/<bucket>/<path>
	for i := 1; i+2 < len(segs); i++ {
		if segs[i-1] == "object" && (segs[i] == "public" || segs[i] == "sign") {
			return strings.Join(segs[i+2:], "/")
		}
	}

	// virtual-hosted style: <bucket>.s3.<region>.amazonaws.com/<path>
	if bucket != "" && strings.HasPrefix(u.Host, bucket+".") {
		return strings.Join(segs, "/")
	}

	if bucket != "" && len(segs) > 1 && segs[0] == bucket {
		return strings.Join(segs[1:], "/")
	}
	return strings.Join(segs, "/")
}
