package butler

import (
	"encoding/json"
	"runtime"
	"strings"

	"github.com/clean-dependency-project/itchmirror/internal/catalog"
)

// Endpoint is where a running daemon accepts connections.
type Endpoint struct {
	Secret string `json:"secret"`
	TCP    struct {
		Address string `json:"address"`
	} `json:"tcp"`
}

func (e Endpoint) String() string {
	return "tcp://" + e.TCP.Address
}

// VersionInfo is the result of Version.Get.
type VersionInfo struct {
	Version       string `json:"version"`
	VersionString string `json:"versionString"`
}

// User is the itch.io account behind a profile.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Profile is a logged-in itch.io account known to the daemon.
type Profile struct {
	ID   int64 `json:"id"`
	User User  `json:"user"`
}

// Platforms lists the operating systems an upload ships executables for.
// Values are architecture hints such as "all", "386" or "amd64".
type Platforms struct {
	Windows string `json:"windows,omitempty"`
	Linux   string `json:"linux,omitempty"`
	OSX     string `json:"osx,omitempty"`
}

// List returns the platform names present, in a fixed order.
func (p Platforms) List() []string {
	var out []string
	if p.Windows != "" {
		out = append(out, "windows")
	}
	if p.Linux != "" {
		out = append(out, "linux")
	}
	if p.OSX != "" {
		out = append(out, "osx")
	}
	return out
}

// Supports reports whether the upload has a build for goos.
// Uploads that declare no platform at all (soundtracks, books) run anywhere.
func (p Platforms) Supports(goos string) bool {
	if p == (Platforms{}) {
		return true
	}
	switch goos {
	case "windows":
		return p.Windows != ""
	case "darwin":
		return p.OSX != ""
	default:
		return p.Linux != ""
	}
}

// Upload is an installable build artifact of one game.
// The daemon's document is retained and sent back unchanged when queuing.
type Upload struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	DisplayName string    `json:"displayName"`
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	Platforms   Platforms `json:"platforms"`

	raw json.RawMessage
}

type uploadFields Upload

func (u *Upload) UnmarshalJSON(data []byte) error {
	var f uploadFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*u = Upload(f)
	u.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (u Upload) MarshalJSON() ([]byte, error) {
	if len(u.raw) > 0 {
		return u.raw, nil
	}
	return json.Marshal(uploadFields(u))
}

// Name is the display name, or the file name when no display name is set.
func (u Upload) Name() string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	return u.Filename
}

// Compatible reports whether the upload has a build for the running system.
func (u Upload) Compatible() bool {
	return u.Platforms.Supports(runtime.GOOS)
}

// Game is the daemon's view of a game, in the daemon's field naming.
type Game struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	ShortText     string `json:"shortText,omitempty"`
	URL           string `json:"url,omitempty"`
	CoverURL      string `json:"coverUrl,omitempty"`
	StillCoverURL string `json:"stillCoverUrl,omitempty"`
}

// GameFromCatalog converts a catalog entry for use in daemon calls.
func GameFromCatalog(g catalog.Game) Game {
	return Game{
		ID:            g.ID,
		Title:         g.Title,
		ShortText:     g.ShortText,
		URL:           g.URL,
		CoverURL:      g.CoverURL,
		StillCoverURL: g.StillCoverURL,
	}
}

// QueueInstallParams are the parameters of Install.Queue.
type QueueInstallParams struct {
	Game             Game   `json:"game"`
	Upload           Upload `json:"upload"`
	NoCave           bool   `json:"noCave"`
	FastQueue        bool   `json:"fastQueue"`
	QueueDownload    bool   `json:"queueDownload"`
	IgnoreInstallers bool   `json:"ignoreInstallers"`
	InstallFolder    string `json:"installFolder"`
	StagingFolder    string `json:"stagingFolder"`
}

// DirectInstall builds queue parameters that download straight into
// installFolder: no cave bookkeeping and no bundled installers.
func DirectInstall(game catalog.Game, upload Upload, installFolder, stagingFolder string) QueueInstallParams {
	return QueueInstallParams{
		Game:             GameFromCatalog(game),
		Upload:           upload,
		NoCave:           true,
		FastQueue:        true,
		QueueDownload:    true,
		IgnoreInstallers: true,
		InstallFolder:    installFolder,
		StagingFolder:    stagingFolder,
	}
}

// InstallJob is the daemon-side handle returned by Install.Queue.
type InstallJob struct {
	ID            string `json:"id"`
	Reason        string `json:"reason,omitempty"`
	InstallFolder string `json:"installFolder,omitempty"`
	StagingFolder string `json:"stagingFolder"`
}

// LogNotification is sent by the daemon while it works on a call.
type LogNotification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ProgressNotification reports transfer progress of an install.
type ProgressNotification struct {
	Progress float64 `json:"progress"`
	ETA      float64 `json:"eta"`
	BPS      float64 `json:"bps"`
}

// Notification is a message the daemon sends during a call.
type Notification struct {
	Method string
	Params json.RawMessage
}

// NotificationFunc receives the notifications belonging to one call.
type NotificationFunc func(Notification)

// AsLog decodes a Log notification.
func (n Notification) AsLog() (LogNotification, bool) {
	var l LogNotification
	if n.Method != "Log" || json.Unmarshal(n.Params, &l) != nil {
		return LogNotification{}, false
	}
	return l, true
}

// AsProgress decodes a Progress notification.
func (n Notification) AsProgress() (ProgressNotification, bool) {
	var p ProgressNotification
	if n.Method != "Progress" || json.Unmarshal(n.Params, &p) != nil {
		return ProgressNotification{}, false
	}
	return p, true
}
