package digest

import (
	"context"
	"fmt"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/marker"
)

// Reporter persists per-profile reports next to the other documents.
type Reporter struct {
	Blobs blobstore.Store
}

// ReportName is the document name of the report for (runKey, profileID).
func ReportName(runKey, profileID string) string {
	return "report_" + marker.Slug(runKey) + "__" + marker.Slug(profileID) + ".md"
}

// Write stores d as a markdown report and returns its name.
func (r Reporter) Write(ctx context.Context, runKey, profileID string, d Digest, now time.Time) (string, error) {
	name := ReportName(runKey, profileID)
	body := fmt.Sprintf("<!-- run=%s profile=%s generated=%s -->\n%s", runKey, profileID, now.UTC().Format(time.RFC3339), d.Body)
	if err := blobstore.Put(ctx, r.Blobs, name, []byte(body)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return name, nil
}
