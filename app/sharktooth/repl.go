package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/WasatchPhotonics/SharkTooth/eng001"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

const helpText = `commands:
  devices            list devices found in the capture
  select <tag>       focus one device by its tag
  spec               auto-select the spectrometer (acquisitions + bulk reads)
  ops [opcode]       list decoded operations, optionally one opcode only
  unknown            list operations the decode table could not name
  range <lo> <hi>    operations within a frame-number range
  stats              record/transaction accounting
  clear              clear the output area
  quit               leave`

type inspectorModel struct {
	sess        *session.Session
	capturePath string
	selected    *session.Device
	ti          textinput.Model
	body        string
	width       int
}

func newInspectorModel(sess *session.Session, path string) inspectorModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "help"
	ti.Focus()
	return inspectorModel{
		sess:        sess,
		capturePath: path,
		ti:          ti,
		body:        helpText,
		width:       100,
	}
}

func (m *inspectorModel) selectDevice(tag string) (string, error) {
	d, err := m.sess.SelectDevice(tag)
	if err != nil {
		return "", err
	}
	m.selected = d
	return fmt.Sprintf("selected %s", d.Identity()), nil
}

func (m inspectorModel) Init() tea.Cmd { return textinput.Blink }

func (m inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.ti.Value())
			m.ti.SetValue("")
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			if line != "" {
				m.body = m.exec(line)
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *inspectorModel) exec(line string) string {
	args := strings.Fields(line)
	switch args[0] {
	case "help":
		return helpText

	case "devices":
		var b strings.Builder
		for _, id := range m.sess.Devices() {
			fmt.Fprintf(&b, "%-10s %s  (%d operations)\n",
				id.Tag(), id.String(), len(m.sess.OperationsFor(id)))
		}
		return strings.TrimRight(b.String(), "\n")

	case "select":
		if len(args) != 2 {
			return "usage: select <tag>"
		}
		out, err := m.selectDevice(args[1])
		if err != nil {
			return err.Error()
		}
		return out

	case "spec":
		d, err := m.sess.SelectSpectrometer()
		if err != nil {
			return err.Error()
		}
		m.selected = d
		return fmt.Sprintf("selected %s", d.Identity())

	case "ops":
		ops := m.currentOps()
		if len(args) == 2 {
			ops = filterOpcode(ops, args[1])
		}
		return renderOpsTable(ops, m.width)

	case "unknown":
		return renderOpsTable(m.sess.UnknownOperations(), m.width)

	case "range":
		if len(args) != 3 {
			return "usage: range <lo> <hi>"
		}
		lo, err1 := strconv.ParseUint(args[1], 10, 64)
		hi, err2 := strconv.ParseUint(args[2], 10, 64)
		if err1 != nil || err2 != nil {
			return "range bounds must be frame numbers"
		}
		return renderOpsTable(m.sess.OperationsInRange(lo, hi), m.width)

	case "stats":
		st := m.sess.Stats()
		return fmt.Sprintf(
			"loaded %d, consumed %d, skipped %d, transactions %d, devices %d",
			st.Loaded, st.Consumed, st.Skipped, st.Transactions, st.Devices)

	case "clear":
		return ""
	}
	return fmt.Sprintf("unknown command %q (try help)", args[0])
}

func (m *inspectorModel) currentOps() []eng001.Operation {
	if m.selected != nil {
		return m.selected.Operations()
	}
	return m.sess.Operations()
}

func (m inspectorModel) View() string {
	title := titleStyle.Render(banner) + "  " + pathStyle.Render(m.capturePath)

	var selectedTag string
	if m.selected != nil {
		selectedTag = m.selected.Identity().Tag()
	}
	chips := renderDeviceChips(m.sess, selectedTag, m.width)

	return title + "\n" + chips + "\n\n" + m.body + "\n\n" + m.ti.View() + "\n"
}
