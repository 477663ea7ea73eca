package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/WasatchPhotonics/SharkTooth/capture"
	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/eng001"
	"github.com/WasatchPhotonics/SharkTooth/health"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	sp := &capture.SetupPacket{BmRequestType: 0xC0, BRequest: eng001.ReqGetFirmwareVersion, WLength: 2}
	recs := []capture.Record{
		{Seq: 1, Bus: 1, Address: 5, Transfer: capture.TransferControl,
			Stage: capture.StageSetup, Setup: sp, Dir: capture.DirIn},
		{Seq: 2, Bus: 1, Address: 5, Transfer: capture.TransferControl,
			Stage: capture.StageData, Dir: capture.DirIn, Payload: []byte{0x01, 0x05}},
		{Seq: 3, Bus: 1, Address: 5, Transfer: capture.TransferControl,
			Stage: capture.StageStatus, Dir: capture.DirIn},
	}
	sess, err := session.Analyze(recs, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestRoutes(t *testing.T) {
	sess := testSession(t)
	mon := health.NewMonitor()
	app := buildApp(func() *session.Session { return sess }, mon, slog.Default())

	t.Run("healthz", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/stats", nil))
		if err != nil {
			t.Fatal(err)
		}
		var stats session.Stats
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &stats); err != nil {
			t.Fatalf("unmarshal %q: %v", body, err)
		}
		if stats.Loaded != 3 || stats.Consumed+stats.Skipped != stats.Loaded {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("devices", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/devices", nil))
		if err != nil {
			t.Fatal(err)
		}
		var devs []deviceJSON
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &devs); err != nil {
			t.Fatalf("unmarshal %q: %v", body, err)
		}
		if len(devs) != 1 || devs[0].Address != 5 || devs[0].Operations != 1 {
			t.Errorf("devices = %+v", devs)
		}
	})

	t.Run("device operations", func(t *testing.T) {
		tag := sess.Devices()[0].Tag()
		resp, err := app.Test(httptest.NewRequest("GET", "/devices/"+tag+"/operations", nil))
		if err != nil {
			t.Fatal(err)
		}
		var ops []operationJSON
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &ops); err != nil {
			t.Fatalf("unmarshal %q: %v", body, err)
		}
		if len(ops) != 1 || ops[0].Opcode != "GET_FIRMWARE_VERSION" {
			t.Errorf("operations = %+v", ops)
		}
	})

	t.Run("unknown device tag", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/devices/bogus/operations", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 404 {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("operations filter", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/operations?opcode=NOPE", nil))
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "[]" {
			t.Errorf("filtered operations = %s", body)
		}
	})

	t.Run("bad range", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/operations?lo=abc", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 400 {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	if mon.QueryCount() == 0 {
		t.Error("middleware did not count queries")
	}
}
