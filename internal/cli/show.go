package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daymark/daymark/internal/engine"
	"github.com/daymark/daymark/internal/task"
)

// NewShowCommand creates the show command: the reconciled day view.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the reconciled occurrences for a date",
		Long: `Show the reconciled task occurrences for a date, grouped by slot in
boundary order with the no-slot bucket first.

Example:
  daymark show --vault ~/notes --date 2025-03-10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			groups := s.engine.GroupBySlot()
			if opts.Format == "json" {
				return s.out.Success("", dayView(s.date, groups))
			}
			renderDay(s.out.Writer, s.date, groups)
			return nil
		},
	}
}

// instanceView is the JSON projection of one occurrence.
type instanceView struct {
	ID        string  `json:"instanceId"`
	Title     string  `json:"title"`
	Path      string  `json:"path,omitempty"`
	State     string  `json:"state"`
	Slot      string  `json:"slotKey"`
	Order     float64 `json:"order"`
	Duplicate bool    `json:"duplicate,omitempty"`
	StartedAt string  `json:"startedAt,omitempty"`
	StoppedAt string  `json:"stoppedAt,omitempty"`
}

type slotView struct {
	Slot      string         `json:"slotKey"`
	Instances []instanceView `json:"instances"`
}

type dayViewData struct {
	Date  string     `json:"date"`
	Slots []slotView `json:"slots"`
}

func dayView(date task.DateKey, groups []engine.SlotGroup) dayViewData {
	view := dayViewData{Date: string(date)}
	for _, g := range groups {
		sv := slotView{Slot: g.Slot, Instances: []instanceView{}}
		for _, inst := range g.Instances {
			iv := instanceView{
				ID:        inst.ID,
				Title:     inst.Def.Title(),
				Path:      inst.Def.Path,
				State:     inst.State.String(),
				Slot:      inst.Slot,
				Order:     inst.Order,
				Duplicate: inst.Duplicate,
			}
			if inst.StartedAt != nil {
				iv.StartedAt = inst.StartedAt.Format(time.RFC3339)
			}
			if inst.StoppedAt != nil {
				iv.StoppedAt = inst.StoppedAt.Format(time.RFC3339)
			}
			sv.Instances = append(sv.Instances, iv)
		}
		view.Slots = append(view.Slots, sv)
	}
	return view
}

// renderDay writes the text day view: one header line per slot, one
// indented line per occurrence with a state marker.
func renderDay(w io.Writer, date task.DateKey, groups []engine.SlotGroup) {
	fmt.Fprintln(w, date)
	for _, g := range groups {
		if len(g.Instances) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", slotHeading(g.Slot))
		for _, inst := range g.Instances {
			fmt.Fprintf(w, "  %s %s%s\n", stateMarker(inst.State), inst.Def.Title(), instanceSuffix(inst))
		}
	}
}

func slotHeading(slot string) string {
	if slot == task.NoSlot {
		return "(no slot)"
	}
	return slot
}

func stateMarker(st task.State) string {
	switch st {
	case task.Running:
		return "[>]"
	case task.Done:
		return "[x]"
	default:
		return "[ ]"
	}
}

// instanceSuffix annotates an occurrence with its execution span and
// duplicate mark.
func instanceSuffix(inst task.Instance) string {
	var parts []string
	if inst.Duplicate {
		parts = append(parts, "(copy)")
	}
	switch {
	case inst.State == task.Done && inst.StartedAt != nil && inst.StoppedAt != nil:
		parts = append(parts, inst.StartedAt.Format("15:04")+"-"+inst.StoppedAt.Format("15:04"))
	case inst.State == task.Running && inst.StartedAt != nil:
		parts = append(parts, "since "+inst.StartedAt.Format("15:04"))
	}
	if len(parts) == 0 {
		return ""
	}
	return "  " + strings.Join(parts, " ")
}
