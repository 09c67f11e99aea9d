package objectpath

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"relative", "plans/job-1/a.pdf", "plans/job-1/a.pdf"},
		{"absolute", "/plans/job-1/a.pdf", "plans/job-1/a.pdf"},
		{"bucket prefixed", "plans-bucket/plans/a.pdf", "plans/a.pdf"},
		{"public url", "https://x.supabase.co/storage/v1/object/public/plans-bucket/plans/a.pdf", "plans/a.pdf"},
		{"signed url", "https://x.supabase.co/storage/v1/object/sign/plans-bucket/plans/a.pdf?token=abc", "plans/a.pdf"},
		{"virtual hosted", "https://plans-bucket.s3.us-east-1.amazonaws.com/plans/a.pdf", "plans/a.pdf"},
		{"path style", "https://s3.amazonaws.com/plans-bucket/plans/a.pdf", "plans/a.pdf"},
		{"s3 scheme", "s3://plans-bucket/plans/a.pdf", "plans/a.pdf"},
		{"gs scheme", "gs://plans-bucket/plans/a.pdf", "plans/a.pdf"},
		{"escaped", "https://host/object/public/plans-bucket/plans/my%20plan.pdf", "plans/my plan.pdf"},
		{"dot segments", "plans/../plans/./a.pdf", "plans/a.pdf"},
		{"public folder relative", "plans/public/x.pdf", "plans/public/x.pdf"},
		{"public folder path style", "https://s3.amazonaws.com/plans-bucket/plans/public/x.pdf", "plans/public/x.pdf"},
		{"sign folder virtual hosted", "https://plans-bucket.s3.us-east-1.amazonaws.com/jobs/sign/x.pdf", "jobs/sign/x.pdf"},
		{"public folder inside public url", "https://x.supabase.co/storage/v1/object/public/plans-bucket/plans/public/x.pdf", "plans/public/x.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.ref, "plans-bucket")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveRejectsEmpty(t *testing.T) {
	for _, ref := range []string{"", "   ", "/", "s3://bucket"} {
		if _, err := Resolve(ref, "bucket"); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("Resolve(%q) err = %v, want ErrInvalidReference", ref, err)
		}
	}
}
