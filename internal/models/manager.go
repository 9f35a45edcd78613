// Package models manages the on-disk artifacts the offline translation
// daemon depends on: one subdirectory per direction, each holding a ct2
// inference directory and either a shared or a source/target pair of
// SentencePiece models.
package models

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/errs"
)

// Direction is one supported translation direction.
type Direction struct {
	Source string
	Target string
}

func (d Direction) String() string {
	return d.Source + "-" + d.Target
}

var (
	EnJa = Direction{Source: "en", Target: "ja"}
	JaEn = Direction{Source: "ja", Target: "en"}
)

// SupportedDirections returns the fixed direction set of the offline
// backend.
func SupportedDirections() []Direction {
	return []Direction{EnJa, JaEn}
}

// Supported reports whether (source, target) is an offline direction.
func Supported(source, target string) bool {
	for _, d := range SupportedDirections() {
		if d.Source == source && d.Target == target {
			return true
		}
	}
	return false
}

// DirectionStatus is recomputed from the filesystem on every call, never
// persisted.
type DirectionStatus struct {
	Installed bool   `json:"installed"`
	Reason    string `json:"reason"`
}

type Status struct {
	ModelDir string          `json:"model_dir"`
	EnJa     DirectionStatus `json:"en_ja"`
	JaEn     DirectionStatus `json:"ja_en"`
}

type VerifyResult struct {
	OK bool `json:"ok"`
	Status
}

type RemoveResult struct {
	OK       bool   `json:"ok"`
	ModelDir string `json:"model_dir"`
}

// InstallRequest selects one of two install modes: a named preset resolved
// to archives shipped alongside the daemon, or a pair of archive URLs with
// optional SHA-256 digests.
type InstallRequest struct {
	EnJaURL    string `json:"en_ja_url"`
	JaEnURL    string `json:"ja_en_url"`
	EnJaSHA256 string `json:"en_ja_sha256,omitempty"`
	JaEnSHA256 string `json:"ja_en_sha256,omitempty"`
	Preset     string `json:"preset,omitempty"`
}

// Manager owns a single model root directory.
type Manager struct {
	modelDir string
	packDir  string
	client   *http.Client
	logger   *logrus.Entry
}

func NewManager(modelDir string) *Manager {
	packDir := ""
	if exe, err := os.Executable(); err == nil {
		packDir = filepath.Join(filepath.Dir(exe), "model_packs")
	}
	return &Manager{
		modelDir: modelDir,
		packDir:  packDir,
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   logrus.WithField("component", "models"),
	}
}

// DefaultModelDir resolves the platform cache location for model artifacts.
func DefaultModelDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "babelloop", "models")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".babelloop", "models")
}

func (m *Manager) ModelDir() string {
	return m.modelDir
}

// VerifyDirection probes the filesystem layout for one direction. No
// network I/O.
func (m *Manager) VerifyDirection(d Direction) (installed bool, reason string) {
	dir := filepath.Join(m.modelDir, d.String())
	if _, err := os.Stat(dir); err != nil {
		return false, "missing directory"
	}
	if _, err := os.Stat(filepath.Join(dir, "ct2")); err != nil {
		return false, "missing ct2/"
	}
	if _, err := os.Stat(filepath.Join(dir, "spm.model")); err == nil {
		return true, "ok"
	}
	_, srcErr := os.Stat(filepath.Join(dir, "source.spm"))
	_, tgtErr := os.Stat(filepath.Join(dir, "target.spm"))
	if srcErr == nil && tgtErr == nil {
		return true, "ok"
	}
	return false, "missing SentencePiece model (spm.model or source.spm+target.spm)"
}

func (m *Manager) Status() Status {
	enJaOK, enJaReason := m.VerifyDirection(EnJa)
	jaEnOK, jaEnReason := m.VerifyDirection(JaEn)
	return Status{
		ModelDir: m.modelDir,
		EnJa:     DirectionStatus{Installed: enJaOK, Reason: enJaReason},
		JaEn:     DirectionStatus{Installed: jaEnOK, Reason: jaEnReason},
	}
}

// Verify reports installed iff every supported direction is installed.
func (m *Manager) Verify() VerifyResult {
	status := m.Status()
	return VerifyResult{
		OK:     status.EnJa.Installed && status.JaEn.Installed,
		Status: status,
	}
}

// Remove deletes the model root recursively, tolerating its absence.
func (m *Manager) Remove() RemoveResult {
	if err := os.RemoveAll(m.modelDir); err != nil {
		m.logger.Warnf("failed to remove model dir: %v", err)
	}
	return RemoveResult{OK: true, ModelDir: m.modelDir}
}

// Install downloads (or resolves from a preset), checksum-gates and extracts
// both direction archives. All staging happens in a temporary directory
// removed on every exit path; the model directory is only touched after both
// checksums pass.
func (m *Manager) Install(ctx context.Context, req InstallRequest) (VerifyResult, error) {
	if req.Preset != "" {
		return m.installPreset(ctx, req.Preset)
	}
	if req.EnJaURL == "" || req.JaEnURL == "" {
		return VerifyResult{}, errs.User("provide en_ja_url and ja_en_url, or preset")
	}

	tempDir, err := os.MkdirTemp("", "babelloop_models_")
	if err != nil {
		return VerifyResult{}, errs.Wrap(errs.KindConfig, "cannot create staging dir", err)
	}
	defer os.RemoveAll(tempDir)

	enJaZip := filepath.Join(tempDir, "en-ja.zip")
	jaEnZip := filepath.Join(tempDir, "ja-en.zip")
	if err := m.fetch(ctx, req.EnJaURL, enJaZip); err != nil {
		return VerifyResult{}, err
	}
	if err := m.fetch(ctx, req.JaEnURL, jaEnZip); err != nil {
		return VerifyResult{}, err
	}

	if err := verifyChecksum(enJaZip, req.EnJaSHA256, "en-ja"); err != nil {
		return VerifyResult{}, err
	}
	if err := verifyChecksum(jaEnZip, req.JaEnSHA256, "ja-en"); err != nil {
		return VerifyResult{}, err
	}

	// The model root is only touched once both archives check out.
	if err := os.MkdirAll(m.modelDir, 0o755); err != nil {
		return VerifyResult{}, errs.Wrap(errs.KindConfig, "cannot create model dir", err)
	}

	if err := extractZip(enJaZip, filepath.Join(m.modelDir, EnJa.String())); err != nil {
		return VerifyResult{}, err
	}
	if err := extractZip(jaEnZip, filepath.Join(m.modelDir, JaEn.String())); err != nil {
		return VerifyResult{}, err
	}

	m.logger.Infof("installed model archives under %s", m.modelDir)
	return m.Verify(), nil
}

func (m *Manager) installPreset(ctx context.Context, preset string) (VerifyResult, error) {
	id := strings.ToLower(strings.TrimSpace(preset))
	switch id {
	case "default", "elanmt-tiny-int8", "elanmt_tiny_int8":
		enJa := filepath.Join(m.packDir, "elanmt-tiny-int8-en-ja.zip")
		jaEn := filepath.Join(m.packDir, "elanmt-tiny-int8-ja-en.zip")
		if !fileExists(enJa) || !fileExists(jaEn) {
			return VerifyResult{}, errs.ModelUnavailable(
				fmt.Sprintf("default model pack not found under %s", m.packDir))
		}
		return m.Install(ctx, InstallRequest{EnJaURL: enJa, JaEnURL: jaEn})
	}
	return VerifyResult{}, errs.Newf(errs.KindUser, "unknown preset: %s", preset)
}

// fetch copies an archive into the staging area. Plain paths and file://
// URLs read the local filesystem; anything else goes over HTTP.
func (m *Manager) fetch(ctx context.Context, source, dest string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return m.download(ctx, source, dest)
	}
	path := strings.TrimPrefix(source, "file://")
	in, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to read model archive", err)
	}
	defer in.Close()
	return writeTo(dest, in)
}

func (m *Manager) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "invalid model URL", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to download model", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindNetwork, "failed to download model: HTTP %d", resp.StatusCode)
	}
	return writeTo(dest, resp.Body)
}

func writeTo(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "cannot write staging file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to store model archive", err)
	}
	return nil
}

// verifyChecksum compares the file digest against expected, case
// insensitively. An empty expected value skips the gate; a mismatch is
// fatal and nothing gets extracted.
func verifyChecksum(path, expected, label string) error {
	if expected == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "cannot read staged archive", err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return errs.Wrap(errs.KindConfig, "cannot hash staged archive", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return errs.Newf(errs.KindInvalidResponse, "%s checksum mismatch", label)
	}
	return nil
}

func extractZip(zipPath, destDir string) error {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return errs.Newf(errs.KindInvalidResponse, "invalid zip archive: %s", filepath.Base(zipPath))
	}
	defer archive.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errs.Wrap(errs.KindConfig, "cannot create direction dir", err)
	}
	for _, file := range archive.File {
		target := filepath.Join(destDir, file.Name)
		// Reject entries escaping the destination.
		if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator),
			filepath.Clean(destDir)+string(os.PathSeparator)) && filepath.Clean(target) != filepath.Clean(destDir) {
			return errs.Newf(errs.KindInvalidResponse, "zip entry escapes destination: %s", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.Wrap(errs.KindConfig, "cannot create extracted dir", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errs.Wrap(errs.KindConfig, "cannot create extracted dir", err)
		}
		in, err := file.Open()
		if err != nil {
			return errs.Newf(errs.KindInvalidResponse, "invalid zip archive: %s", filepath.Base(zipPath))
		}
		if err := writeTo(target, in); err != nil {
			in.Close()
			return err
		}
		in.Close()
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
