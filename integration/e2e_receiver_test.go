package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// TestBlackboxPersonaFlow runs the full webhook development loop: receiver
// on its local port, tunnel client in front of it, then a persona webhook
// posted against the public URL and read back.
func TestBlackboxPersonaFlow(t *testing.T) {
	serverBin, clientBin, receiverBin := buildAll(t)

	srvPort, err := findFreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	recvPort, err := findFreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srvCmd := exec.CommandContext(ctx, serverBin, "--listen", fmt.Sprintf(":%d", srvPort), "--domain", "example.com")
	srvCmd.Stdout, srvCmd.Stderr = os.Stdout, os.Stderr
	if err := srvCmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	recvCmd := exec.CommandContext(ctx, receiverBin, "--host", "127.0.0.1", "--port", fmt.Sprintf("%d", recvPort))
	recvCmd.Stdout, recvCmd.Stderr = os.Stdout, os.Stderr
	if err := recvCmd.Start(); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", srvPort)
	clientCmd := exec.CommandContext(ctx, clientBin, "--server", serverURL, "--subdomain", "persona", "--host", "127.0.0.1", "--port", fmt.Sprintf("%d", recvPort))
	clientCmd.Stdout, clientCmd.Stderr = os.Stdout, os.Stderr
	if err := clientCmd.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	httpc := &http.Client{Timeout: 5 * time.Second}

	// the browser smoke check through the tunnel
	rootReq, _ := http.NewRequest("GET", serverURL+"/", nil)
	rootReq.Host = "persona.example.com"
	rootResp, err := httpc.Do(rootReq)
	if err != nil {
		t.Fatalf("root request: %v", err)
	}
	rootResp.Body.Close()
	if rootResp.StatusCode != http.StatusOK {
		t.Fatalf("root status: %d", rootResp.StatusCode)
	}

	// webhook save
	payload := `{"session_id": "e2e-1", "broad_domain_expertise": "devops consulting", "broad_domain_expertise_quality": "high"}`
	saveReq, _ := http.NewRequest("POST", serverURL+"/save-persona-section1", strings.NewReader(payload))
	saveReq.Host = "persona.example.com"
	saveReq.Header.Set("Content-Type", "application/json")
	saveResp, err := httpc.Do(saveReq)
	if err != nil {
		t.Fatalf("save request: %v", err)
	}
	defer saveResp.Body.Close()
	if saveResp.StatusCode != http.StatusOK {
		t.Fatalf("save status: %d", saveResp.StatusCode)
	}

	// fetch back
	getReq, _ := http.NewRequest("GET", serverURL+"/get-persona-section1?session_id=e2e-1", nil)
	getReq.Host = "persona.example.com"
	getResp, err := httpc.Do(getReq)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	defer getResp.Body.Close()

	var records []map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 || records[0]["broad_domain_expertise"] != "devops consulting" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
