package dispatch

import (
	"fmt"
	"strings"

	"github.com/ytget/media-dispatch/internal/model"
)

// FileHosts are third-party file hosts whose links in a description suggest
// the upload is a copy of content available elsewhere.
var FileHosts = []string{
	"pan.baidu.com",
	"aliyundrive.com",
	"alipan.com",
	"mega.nz",
	"drive.google.com",
	"1drv.ms",
	"onedrive.live.com",
	"dropbox.com",
	"uploadgig.com",
	"katfile.com",
	"storex.cc",
	"mixdrop.co",
	"mediafire.com",
	"pixeldrain.com",
	"gofile.io",
}

// findFileHost returns the first known file host mentioned in text
func findFileHost(text string) string {
	lower := strings.ToLower(text)
	for _, host := range FileHosts {
		if strings.Contains(lower, host) {
			return host
		}
	}
	return ""
}

// CheckGuards runs the pre-dispatch guards in order and returns an
// *AbortError for the first one that trips.
func CheckGuards(item *model.ResolvedItem, checkLinks bool) error {
	if checkLinks {
		if host := findFileHost(item.Description); host != "" {
			return &AbortError{ID: item.ID, Reason: fmt.Sprintf("description links to %s", host)}
		}
	}
	if !item.Dispatchable() {
		return &AbortError{ID: item.ID, Reason: notReadyReason(item)}
	}
	if quality := item.SelectQuality(); quality != model.QualitySource {
		return &AbortError{ID: item.ID, Reason: fmt.Sprintf("best quality is %q, not %s", quality, model.QualitySource)}
	}
	return nil
}

func notReadyReason(item *model.ResolvedItem) string {
	switch {
	case item.External:
		return "item is hosted externally"
	case item.State.IsActive():
		return fmt.Sprintf("item is still resolving (%s)", item.State)
	case !item.State.IsFinished():
		return "item was never resolved"
	case item.State == model.ItemStateFailed:
		return "item failed to resolve"
	default:
		return "item has no variants"
	}
}
