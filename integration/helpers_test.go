package integration

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// findFreePort asks the kernel for a free open port that is ready to use.
func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func buildBinary(t *testing.T, pkg, out string) {
	t.Helper()
	cmd := exec.Command("go", "build", "-o", out, pkg)
	cmd.Env = append(os.Environ(), "GOOS="+runtime.GOOS, "GOARCH="+runtime.GOARCH)
	if outBytes, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, string(outBytes))
	}
}

func buildAll(t *testing.T) (serverBin, clientBin, receiverBin string) {
	t.Helper()
	tempDir := t.TempDir()
	serverBin = filepath.Join(tempDir, "hookrelay-server")
	clientBin = filepath.Join(tempDir, "hookrelay")
	receiverBin = filepath.Join(tempDir, "hookrelay-receiver")
	buildBinary(t, "../cmd/server", serverBin)
	buildBinary(t, "../cmd/client", clientBin)
	buildBinary(t, "../cmd/receiver", receiverBin)
	return serverBin, clientBin, receiverBin
}
