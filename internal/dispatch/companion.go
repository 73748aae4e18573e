package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ytget/media-dispatch/internal/model"
)

// CompanionVersion is the envelope version understood by the companion downloader
const CompanionVersion = 1

// CompanionEnvelope is the request sent to the companion downloader
type CompanionEnvelope struct {
	Ver   int           `json:"ver"`
	Code  string        `json:"code"`
	Data  CompanionData `json:"data"`
	Token string        `json:"token,omitempty"`
}

// CompanionData describes one item to download. Times are unix milliseconds.
type CompanionData struct {
	Source          string   `json:"source"`
	Author          string   `json:"author"`
	Name            string   `json:"name"`
	DownloadTime    int64    `json:"downloadTime"`
	UploadTime      int64    `json:"uploadTime"`
	DownloadURL     string   `json:"downloadUrl"`
	DownloadCookies string   `json:"downloadCookies"`
	Info            string   `json:"info"`
	Tag             []string `json:"tag"`
	Path            string   `json:"path,omitempty"`
}

type companionResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// BuildCompanionEnvelope assembles the add request for downloadURL
func BuildCompanionEnvelope(profile model.BackendProfile, item *model.ResolvedItem, downloadURL, cookie string, now time.Time) CompanionEnvelope {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return CompanionEnvelope{
		Ver:  CompanionVersion,
		Code: "add",
		Data: CompanionData{
			Source:          item.ID,
			Author:          item.Author,
			Name:            item.Title,
			DownloadTime:    now.UnixMilli(),
			UploadTime:      item.CreatedAt.UnixMilli(),
			DownloadURL:     downloadURL,
			DownloadCookies: cookie,
			Info:            item.Description,
			Tag:             tags,
			Path:            OutputPath(profile.PathTemplate, item, now),
		},
		Token: profile.Token,
	}
}

func (d *Dispatcher) sendCompanion(ctx context.Context, profile model.BackendProfile, item *model.ResolvedItem, downloadURL string) error {
	cookie, _ := d.settings.Credentials()
	env := BuildCompanionEnvelope(profile, item, downloadURL, cookie, d.now())

	raw, err := d.postJSON(ctx, profile.Endpoint, env)
	if err != nil {
		return err
	}

	var resp companionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode companion response: %w", err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("companion rejected request: code %d %s", resp.Code, resp.Message)
	}
	log.Printf("[Dispatch] companion accepted %s", item.ID)
	return nil
}
