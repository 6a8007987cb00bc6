package backends

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pdxmph/ptto115/pkg/duplicate"
)

const p115InitUploadPath = "/4.0/initupload.php"

// Status values of the init-upload answer
const (
	p115StatusNeedUpload = 1
	p115StatusInstant    = 2
)

// P115Uploader performs 115 instant uploads
type P115Uploader struct {
	client *P115Client
	now    func() time.Time
}

// p115InitResponse is the subset of the init-upload answer we act on
type p115InitResponse struct {
	State      bool   `json:"state"`
	Status     int    `json:"status"`
	StatusCode int    `json:"statuscode"`
	StatusMsg  string `json:"statusmsg"`
	PickCode   string `json:"pickcode"`
	Target     string `json:"target"`
}

// NewP115Uploader creates a new 115 uploader
func NewP115Uploader(client *P115Client) *P115Uploader {
	return &P115Uploader{client: client, now: time.Now}
}

// Name identifies the backend
func (u *P115Uploader) Name() string {
	return "115"
}

// InstantUpload asks 115 to create the file from its hash. When req.SHA1 is
// empty the file is hashed locally first, so a miss still yields a hash the
// caller can reuse on the next attempt.
func (u *P115Uploader) InstantUpload(ctx context.Context, req Request) Result {
	sum, pre, err := hashesFor(req)
	if err != nil {
		return Failed(err)
	}

	// Step 1: build the init request
	form := url.Values{}
	form.Set("appid", "0")
	form.Set("userid", u.client.UserID())
	form.Set("filename", req.Name)
	form.Set("filesize", strconv.FormatInt(req.Size, 10))
	form.Set("fileid", sum)
	form.Set("preid", pre)
	form.Set("target", fmt.Sprintf("U_1_%d", req.TargetPID))
	form.Set("t", strconv.FormatInt(u.now().Unix(), 10))

	// Step 2: call the API
	var resp p115InitResponse
	if err := u.client.postForm(ctx, p115InitUploadPath, form, &resp); err != nil {
		return Failed(fmt.Errorf("115 init upload: %w", err))
	}

	// Step 3: interpret the answer
	switch {
	case resp.Status == p115StatusInstant:
		return Completed(sum)
	case resp.State && resp.Status == p115StatusNeedUpload:
		return HashOnly(sum)
	default:
		msg := resp.StatusMsg
		if msg == "" {
			msg = "no message"
		}
		return Failed(fmt.Errorf("115 init upload rejected (state=%t status=%d code=%d): %s",
			resp.State, resp.Status, resp.StatusCode, msg))
	}
}

// hashesFor returns the full and leading-block hashes for req, computing
// only what is not already known.
func hashesFor(req Request) (string, string, error) {
	if req.SHA1 == "" {
		info, err := duplicate.GetFileInfo(req.Path)
		if err != nil {
			return "", "", fmt.Errorf("hash %s: %w", req.Path, err)
		}
		return info.SHA1, info.PreSHA1, nil
	}

	pre, err := duplicate.CalculateBlockSHA1(req.Path, duplicate.PreHashSize)
	if err != nil {
		return "", "", fmt.Errorf("hash %s: %w", req.Path, err)
	}
	return req.SHA1, pre, nil
}
