package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/WasatchPhotonics/SharkTooth/device"
	"github.com/WasatchPhotonics/SharkTooth/eng001"
	"github.com/WasatchPhotonics/SharkTooth/health"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

type deviceJSON struct {
	Tag        string `json:"tag"`
	Bus        int    `json:"bus"`
	Address    int    `json:"address"`
	Epoch      int    `json:"epoch"`
	VendorID   string `json:"vendor_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	Serial     string `json:"serial,omitempty"`
	Operations int    `json:"operations"`
}

type argJSON struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

type fieldJSON struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Text  string `json:"text,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

type operationJSON struct {
	Opcode      string      `json:"opcode"`
	Status      string      `json:"status"`
	Kind        string      `json:"kind"`
	Confidence  string      `json:"confidence"`
	Device      string      `json:"device"`
	TimeSeconds float64     `json:"time_s"`
	FirstSeq    uint64      `json:"first_seq"`
	LastSeq     uint64      `json:"last_seq"`
	Direction   string      `json:"direction"`
	Args        []argJSON   `json:"args,omitempty"`
	Response    []fieldJSON `json:"response,omitempty"`
	ResponseLen int         `json:"response_len"`
}

func toDeviceJSON(id device.Identity, opCount int) deviceJSON {
	d := deviceJSON{
		Tag:        id.Tag(),
		Bus:        id.Bus,
		Address:    id.Address,
		Epoch:      id.Epoch,
		Serial:     id.Serial,
		Operations: opCount,
	}
	if id.VendorID != 0 || id.ProductID != 0 {
		d.VendorID = strconv.FormatUint(uint64(id.VendorID), 16)
		d.ProductID = strconv.FormatUint(uint64(id.ProductID), 16)
	}
	return d
}

func toOperationJSON(op *eng001.Operation) operationJSON {
	dir := "fromSpec"
	if op.ToDevice() {
		dir = "toSpec"
	}
	oj := operationJSON{
		Opcode:      op.Opcode,
		Status:      op.Status.String(),
		Kind:        op.Kind.String(),
		Confidence:  op.Confidence.String(),
		Device:      op.Device.Tag(),
		TimeSeconds: op.Time.Seconds(),
		FirstSeq:    op.FirstSeq,
		LastSeq:     op.LastSeq,
		Direction:   dir,
		ResponseLen: len(op.RawResponse),
	}
	for _, a := range op.Args {
		oj.Args = append(oj.Args, argJSON{Name: a.Name, Value: a.Value, Unit: a.Unit})
	}
	for _, f := range op.Response {
		oj.Response = append(oj.Response, fieldJSON{Name: f.Name, Value: f.Value, Text: f.Text, Unit: f.Unit})
	}
	return oj
}

func toOperationsJSON(ops []eng001.Operation) []operationJSON {
	out := make([]operationJSON, 0, len(ops))
	for i := range ops {
		out = append(out, toOperationJSON(&ops[i]))
	}
	return out
}

func buildApp(getSession func() *session.Session, mon *health.Monitor, l *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${method} ${path} ${status} ${latency}\n",
	}))
	app.Use(func(c *fiber.Ctx) error {
		mon.RecordQuery()
		return c.Next()
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"last_rebuild":     mon.LastRebuild(),
			"queries":          mon.QueryCount(),
			"rebuild_failures": mon.RebuildFailures(),
		})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(getSession().Stats())
	})

	app.Get("/devices", func(c *fiber.Ctx) error {
		s := getSession()
		out := []deviceJSON{}
		for _, id := range s.Devices() {
			out = append(out, toDeviceJSON(id, len(s.OperationsFor(id))))
		}
		return c.JSON(out)
	})

	app.Get("/devices/:tag/operations", func(c *fiber.Ctx) error {
		d, err := getSession().SelectDevice(c.Params("tag"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(toOperationsJSON(d.Operations()))
	})

	app.Get("/operations", func(c *fiber.Ctx) error {
		s := getSession()
		ops := s.Operations()
		if name := c.Query("opcode"); name != "" {
			ops = s.OperationsByOpcode(name)
		}
		if c.Query("lo") != "" || c.Query("hi") != "" {
			lo, err1 := strconv.ParseUint(c.Query("lo", "0"), 10, 64)
			hi, err2 := strconv.ParseUint(c.Query("hi", "18446744073709551615"), 10, 64)
			if err1 != nil || err2 != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "lo/hi must be sequence numbers"})
			}
			ops = intersectRange(ops, lo, hi)
		}
		return c.JSON(toOperationsJSON(ops))
	})

	app.Get("/unknown", func(c *fiber.Ctx) error {
		return c.JSON(toOperationsJSON(getSession().UnknownOperations()))
	})

	return app
}

func intersectRange(ops []eng001.Operation, lo, hi uint64) []eng001.Operation {
	out := make([]eng001.Operation, 0, len(ops))
	for _, op := range ops {
		if op.LastSeq >= lo && op.FirstSeq <= hi {
			out = append(out, op)
		}
	}
	return out
}
