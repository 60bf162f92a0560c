// Package proxy manages the frpc tunnel that exposes a local SOCKS5
// proxy to a remote browser session. The frpc binary is downloaded on
// first use into ~/.smooth/frp.
package proxy

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const frpVersion = "0.66.0"

// Config describes a tunnel to a remote FRP server.
type Config struct {
	ServerAddr string
	Token      string
	RemotePort int
	SessionID  string
}

// Tunnel is a running frpc process bound to one session.
type Tunnel struct {
	cfg Config

	mu         sync.Mutex
	cmd        *exec.Cmd
	exited     chan error
	configPath string
}

// New prepares a tunnel for the given configuration.
func New(cfg Config) *Tunnel {
	if cfg.RemotePort == 0 {
		cfg.RemotePort = 1080
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "default"
	}
	return &Tunnel{cfg: cfg}
}

// Dir returns the directory holding frpc binaries and state. It honors
// SMOOTH_HOME like the rest of the CLI's state.
func Dir() (string, error) {
	if d := os.Getenv("SMOOTH_HOME"); d != "" {
		return filepath.Join(d, "frp"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".smooth", "frp"), nil
}

func platformInfo() (osName, arch, ext string, err error) {
	switch runtime.GOOS {
	case "darwin", "windows":
		osName = runtime.GOOS
	default:
		osName = "linux"
	}
	switch runtime.GOARCH {
	case "amd64", "arm64":
		arch = runtime.GOARCH
	default:
		return "", "", "", fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
	}
	ext = "tar.gz"
	if osName == "windows" {
		ext = "zip"
	}
	return osName, arch, ext, nil
}

// install downloads the frpc binary if it is not already present and
// returns its path.
func install(ctx context.Context) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create frp directory: %w", err)
	}

	osName, arch, ext, err := platformInfo()
	if err != nil {
		return "", err
	}
	binName := "frpc"
	if osName == "windows" {
		binName = "frpc.exe"
	}
	binPath := filepath.Join(dir, binName)
	if _, err := os.Stat(binPath); err == nil {
		return binPath, nil
	}

	folder := fmt.Sprintf("frp_%s_%s_%s", frpVersion, osName, arch)
	url := fmt.Sprintf("https://github.com/fatedier/frp/releases/download/v%s/%s.%s", frpVersion, folder, ext)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download frpc: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download frpc: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "frp-download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download frpc: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	member := folder + "/" + binName
	if ext == "zip" {
		err = extractZipMember(tmp.Name(), member, binPath)
	} else {
		err = extractTarMember(tmp.Name(), member, binPath)
	}
	if err != nil {
		return "", fmt.Errorf("extract frpc: %w", err)
	}
	if err := os.Chmod(binPath, 0o755); err != nil {
		return "", err
	}
	return binPath, nil
}

func extractTarMember(archivePath, member, dst string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("%s not found in archive", member)
		}
		if err != nil {
			return err
		}
		if filepath.ToSlash(hdr.Name) != member {
			continue
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err
	}
}

func extractZipMember(archivePath, member, dst string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if filepath.ToSlash(f.Name) != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return fmt.Errorf("%s not found in archive", member)
}

func (t *Tunnel) writeConfig(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("frpc_%s.yml", t.cfg.SessionID))
	content := fmt.Sprintf(`serverAddr: %s
serverPort: 7000
auth:
  method: token
  token: %q

transport:
  protocol: "websocket"
  tls:
    enable: true
    serverName: %q

proxies:
  - name: "socks5_tunnel_%s"
    type: "tcp"
    remotePort: %d
    plugin:
      type: "socks5"
`, t.cfg.ServerAddr, t.cfg.Token, t.cfg.ServerAddr, t.cfg.SessionID, t.cfg.RemotePort)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write frpc config: %w", err)
	}
	return path, nil
}

// Start installs frpc if needed and launches the tunnel process. A
// process that exits within its first second is reported as a startup
// failure.
func (t *Tunnel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return fmt.Errorf("proxy tunnel already running")
	}

	binPath, err := install(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Dir(binPath)
	configPath, err := t.writeConfig(dir)
	if err != nil {
		return err
	}

	cmd := exec.Command(binPath, "-c", configPath)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Start(); err != nil {
		os.Remove(configPath)
		return fmt.Errorf("start frpc: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case err := <-exited:
		os.Remove(configPath)
		return fmt.Errorf("frpc exited immediately: %v; output: %s", err, output.String())
	case <-time.After(time.Second):
	}

	t.cmd = cmd
	t.exited = exited
	t.configPath = configPath
	return nil
}

// Stop terminates the tunnel process and removes its config file.
func (t *Tunnel) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		<-t.exited
	}
	t.cmd = nil
	t.exited = nil
	if t.configPath != "" {
		os.Remove(t.configPath)
		t.configPath = ""
	}
}
