package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/vm"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// table runs fn against a tabwriter and returns what it wrote. header is
// skipped when NoHeaders is set.
func (f *TableFormatter) table(header string, fn func(w *tabwriter.Writer)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, header)
	}
	fn(w)
	_ = w.Flush()
	return buf.String()
}

// FormatVM formats a single VirtualMachine as a table row.
func (f *TableFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	return f.FormatVMList([]*v1alpha1.VirtualMachine{vm})
}

// FormatVMList formats a list of VirtualMachines as a table.
func (f *TableFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	return f.table("NAME\tPHASE\tUUID\tMEMORY\tDISKS\tNICS\tAGE", func(w *tabwriter.Writer) {
		for _, vm := range vms {
			phase := string(vm.Status.Phase)
			if phase == "" {
				phase = "-"
			}

			id := vm.Status.DomainUUID
			if id == "" {
				id = vm.Spec.VMID
			}
			if id == "" {
				id = "-"
			}

			media := 0
			if boot := vm.BootController(); boot != nil {
				media = len(boot.HardDisks) + len(boot.ISOImages)
			}

			// Calculate age from creation timestamp
			age := "-"
			if !vm.CreationTimestamp.IsZero() {
				age = formatAge(time.Since(vm.CreationTimestamp.Time))
			}

			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d MiB\t%d\t%d\t%s\n",
				vm.Name, phase, id, vm.Spec.MemoryMiB, media, len(vm.Spec.NATAdapters), age)
		}
	}), nil
}

// FormatMachines formats host domains as a table.
func (f *TableFormatter) FormatMachines(machines []vm.MachineInfo) (string, error) {
	if len(machines) == 0 {
		return "No machines found\n", nil
	}

	return f.table("NAME\tSTATE\tMANAGED\tAUTOSTART\tCPUs\tMEMORY", func(w *tabwriter.Writer) {
		for _, m := range machines {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d MiB\n",
				m.Name, m.State, yesNo(m.Managed), yesNo(m.Autostart), m.CPUs, m.MemoryMiB)
		}
	}), nil
}

// FormatPools formats storage pools as a table.
func (f *TableFormatter) FormatPools(pools []storage.PoolInfo) (string, error) {
	if len(pools) == 0 {
		return "No pools found\n", nil
	}

	return f.table("NAME\tSTATE\tPATH\tCAPACITY\tAVAILABLE", func(w *tabwriter.Writer) {
		for i := range pools {
			p := &pools[i]
			path := p.Path
			if path == "" {
				path = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f GB\t%.1f GB\n",
				p.Name, p.State, path, p.CapacityGB(), p.AvailableGB())
		}
	}), nil
}

// FormatVolumes formats pool volumes as a table.
func (f *TableFormatter) FormatVolumes(volumes []storage.VolumeInfo) (string, error) {
	if len(volumes) == 0 {
		return "No volumes found\n", nil
	}

	return f.table("NAME\tPOOL\tFORMAT\tCAPACITY\tPATH", func(w *tabwriter.Writer) {
		for i := range volumes {
			v := &volumes[i]
			format := string(v.Format)
			if format == "" {
				format = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f GB\t%s\n",
				v.Name, v.Pool, format, v.CapacityGB(), v.Path)
		}
	}), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	// More than 2 months, show in approximate years/days
	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
