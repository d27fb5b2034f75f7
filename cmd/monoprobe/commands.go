package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"monomem/binding"
	"monomem/hexdump"
	"monomem/mono"
	"monomem/pod"
	"monomem/process"
	"monomem/process/memory_map"
	"monomem/process_blob"
	"monomem/remote"
	"monomem/search"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

func colorize(attrs ...color.Attribute) pod.FormatFunc {
	c := color.New(attrs...)
	return func(s string) string { return c.Sprint(s) }
}

var (
	addrColor   = colorize(color.FgCyan)
	typeColor   = colorize(color.FgGreen)
	staticColor = colorize(color.FgYellow)
	missColor   = colorize(color.FgRed)
)

func checkArgs(c *cli.Context, min, max int) error {
	if c.NArg() < min || (max >= 0 && c.NArg() > max) {
		_ = cli.ShowCommandHelp(c, c.Command.Name)
		switch {
		case min == max:
			return fmt.Errorf("%q requires exactly %d argument(s)", c.Command.Name, min)
		case max < 0:
			return fmt.Errorf("%q requires at least %d argument(s)", c.Command.Name, min)
		}
		return fmt.Errorf("%q requires %d to %d argument(s)", c.Command.Name, min, max)
	}
	return nil
}

// withEnv opens the target for the duration of one command.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, release, err := openEnv(c)
		if err != nil {
			return err
		}
		defer release()
		return fn(c, e)
	}
}

var modulesCmd = cli.Command{
	Name:  "modules",
	Usage: "show which runtime modules are loaded",
	Action: withEnv(func(c *cli.Context, e *env) error {
		tbl := pod.NewTable(
			pod.ColumnSpec{Header: "Profile"},
			pod.ColumnSpec{Header: "Module"},
			pod.ColumnSpec{Header: "ABI"},
			pod.ColumnSpec{Header: "Base", FormatFunc: addrColor},
			pod.ColumnSpec{Header: "Size", AlignRight: true},
			pod.ColumnSpec{Header: "Offsets"},
		)
		for _, p := range e.profiles {
			offsets := "complete"
			if p.Assemblies == 0 || (p.ABI == mono.ABIAOT && p.TypeInfoTable == 0) {
				offsets = missColor("missing")
			}

			m, err := e.target.FindModule(p.Module)
			if err != nil {
				tbl.AddRow(p.Name, p.Module, p.ABI.String(), "", "", offsets)
				continue
			}
			tbl.AddRow(p.Name, p.Module, p.ABI.String(), m.Base.ToString(), m.Size.ToString(), offsets)
		}
		return tbl.Render(c.App.Writer)
	}),
}

var imagesCmd = cli.Command{
	Name:  "images",
	Usage: "list loaded assemblies",
	Action: withEnv(func(c *cli.Context, e *env) error {
		rt, err := e.runtime()
		if err != nil {
			return err
		}

		tbl := pod.NewTable(
			pod.ColumnSpec{Header: "Assembly"},
			pod.ColumnSpec{Header: "File"},
			pod.ColumnSpec{Header: "Image", FormatFunc: addrColor},
			pod.ColumnSpec{Header: "Slots", AlignRight: true},
		)
		for img, err := range rt.Images(e.target) {
			if err != nil {
				return err
			}
			tbl.AddRow(img.Name, img.FileName, img.Ptr.String(), strconv.Itoa(img.ClassCapacity()))
		}
		return tbl.Render(c.App.Writer)
	}),
}

var classesCmd = cli.Command{
	Name:      "classes",
	Usage:     "list classes in the image, optionally by name prefix",
	ArgsUsage: "[prefix]",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "fuzzy, z", Usage: "match the characters of the argument in order"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 0, 1); err != nil {
			return err
		}
		ix, err := e.classIndex("")
		if err != nil {
			return err
		}

		var names []string
		switch {
		case c.NArg() == 0:
			names = ix.Names()
		case c.Bool("fuzzy"):
			names = ix.Fuzzy(c.Args().First())
		default:
			names = ix.Prefix(c.Args().First())
		}

		for _, name := range names {
			fmt.Fprintln(c.App.Writer, name)
		}
		fmt.Fprintf(c.App.Writer, "%d of %d classes\n", len(names), ix.Len())
		return nil
	}),
}

func fieldTable(e *env, class *mono.Class) (*pod.Table, []mono.Field, error) {
	tbl := pod.NewTable(
		pod.ColumnSpec{Header: "Field"},
		pod.ColumnSpec{Header: "Offset", AlignRight: true, FormatFunc: addrColor},
		pod.ColumnSpec{Header: "Type", FormatFunc: typeColor},
		pod.ColumnSpec{Header: "Storage", FormatFunc: staticColor, BlankValue: " "},
	)

	var fields []mono.Field
	for f, err := range class.Fields(e.target) {
		if err != nil {
			return nil, nil, err
		}
		storage := ""
		switch {
		case f.IsLiteral():
			storage = "const"
		case f.IsStatic():
			storage = "static"
		}
		tbl.AddRow(f.Name, fmt.Sprintf("0x%x", f.Offset), f.Type.String(), storage)
		fields = append(fields, f)
	}
	return tbl, fields, nil
}

var fieldsCmd = cli.Command{
	Name:      "fields",
	Usage:     "list a class's fields with their offsets",
	ArgsUsage: "<Namespace.Class>",
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, 1); err != nil {
			return err
		}
		class, err := e.findClass(c.Args().First())
		if err != nil {
			return err
		}

		tbl, _, err := fieldTable(e, class)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s at %s, instance size 0x%x\n", c.Args().First(), addrColor(class.Ptr.String()), class.InstanceSize)
		return tbl.Render(c.App.Writer)
	}),
}

var singletonCmd = cli.Command{
	Name:      "singleton",
	Usage:     "read the instance held by a static field",
	ArgsUsage: "<Namespace.Class> <field>",
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 2, 2); err != nil {
			return err
		}
		class, err := e.findClass(c.Args().First())
		if err != nil {
			return err
		}
		inst, err := class.FindSingleton(e.target, c.Args().Get(1))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, addrColor(inst.String()))
		return nil
	}),
}

var instancesCmd = cli.Command{
	Name:      "instances",
	Usage:     "scan writable memory for objects of a class",
	ArgsUsage: "<Namespace.Class>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "max", Value: 64, Usage: "stop after this many candidates"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, 1); err != nil {
			return err
		}
		class, err := e.findClass(c.Args().First())
		if err != nil {
			return err
		}
		if err := e.target.UpdateMemoryMap(); err != nil {
			return err
		}

		found, err := search.Instances(e.target, class, search.WithMaxResults(c.Int("max")))
		if err != nil {
			return err
		}
		for _, inst := range found {
			fmt.Fprintln(c.App.Writer, addrColor(inst.String()))
		}
		fmt.Fprintf(c.App.Writer, "%d candidates\n", len(found))
		return nil
	}),
}

var showCmd = cli.Command{
	Name:      "show",
	Usage:     "hexdump an instance with its fields highlighted and decoded",
	ArgsUsage: "<Namespace.Class> <address>",
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 2, 2); err != nil {
			return err
		}
		class, err := e.findClass(c.Args().First())
		if err != nil {
			return err
		}
		addr, err := parseAddress(c.Args().Get(1))
		if err != nil {
			return err
		}

		tbl, fields, err := fieldTable(e, class)
		if err != nil {
			return err
		}

		var spans []hexdump.Span
		for _, f := range fields {
			if f.IsStatic() || f.IsLiteral() || f.Type.Size() == 0 {
				continue
			}
			spans = append(spans, hexdump.Span{Start: int(f.Offset), Len: f.Type.Size()})
		}

		desc, err := binding.DescribeClass(e.target, class)
		if err != nil {
			return err
		}
		rb, err := binding.BindClass(e.target, class, desc)
		if err != nil {
			return err
		}

		err = class.GetInstance(e.target, remote.NewPtr[remote.Object](addr), func(snap *process_blob.ProcessBlob) error {
			if _, err := fmt.Fprint(c.App.Writer, hexdump.Instance(snap.Data(), snap.Base(), e.target, spans...)); err != nil {
				return err
			}
			rec, err := rb.DecodeBlob(snap)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, rec)
			return err
		})
		if err != nil {
			return err
		}
		return tbl.Render(c.App.Writer)
	}),
}

var pathCmd = cli.Command{
	Name:      "path",
	Usage:     "follow a pointer path and print the final 64-bit value",
	ArgsUsage: "<module+0xoffset|address> [0xoffset...]",
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, -1); err != nil {
			return err
		}
		base, err := parseModuleAddress(e.target, c.Args().First())
		if err != nil {
			return err
		}

		var offsets []process.ProcessMemorySize
		for _, arg := range c.Args().Tail() {
			off, err := parseAddress(arg)
			if err != nil {
				return err
			}
			offsets = append(offsets, process.ProcessMemorySize(off))
		}

		v, err := process.ReadPath[uint64](e.target, base, offsets...)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "0x%x (%d)\n", v, v)
		return nil
	}),
}

var dumpCmd = cli.Command{
	Name:      "dump",
	Usage:     "save the target's readable memory for offline use with --from",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		cli.UintFlag{Name: "max-region", Value: process_blob.DefaultMaxRegionSize, Usage: "skip regions larger than this many bytes"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, 1); err != nil {
			return err
		}

		var modules []process.Module
		for _, p := range e.profiles {
			m, err := e.target.FindModule(p.Module)
			if errors.Is(err, process.ErrModuleNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			modules = append(modules, m)
		}

		stats, err := process_blob.Save(e.target, c.Args().First(), process_blob.SaveOptions{
			Name:          c.GlobalString("name"),
			Modules:       modules,
			MaxRegionSize: c.Uint("max-region"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "saved %d regions, skipped %d unreadable and %d large, %d read errors\n",
			stats.Saved, stats.SkippedNonReadable, stats.SkippedTooLarge, stats.ReadErrors)
		return nil
	}),
}

var scanCmd = cli.Command{
	Name:      "scan",
	Usage:     "find a byte signature, by default inside the runtime module",
	ArgsUsage: "<pattern, e.g. \"48 8b 05 ?? ?? ?? ??\">",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "in", Usage: "module to scan; \"*\" scans every readable region"},
		cli.IntFlag{Name: "max", Value: 16, Usage: "stop after this many matches"},
		cli.IntFlag{Name: "context", Value: 32, Usage: "bytes to dump around each match"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, -1); err != nil {
			return err
		}
		pat, err := search.ParsePattern(strings.Join(c.Args(), " "))
		if err != nil {
			return err
		}

		filter := func(item memory_map.MemoryMapItem) bool { return item.IsReadable() }
		if in := c.String("in"); in != "*" {
			if in == "" {
				if _, err := e.runtime(); err != nil {
					return err
				}
				in = e.profile.Module
			}
			m, err := e.target.FindModule(in)
			if err != nil {
				return err
			}
			filter = func(item memory_map.MemoryMapItem) bool {
				return item.IsReadable() && m.Contains(process.ProcessMemoryAddress(item.Address))
			}
		}

		if err := e.target.UpdateMemoryMap(); err != nil {
			return err
		}
		found, err := search.Scan(e.target, pat, search.WithFilter(filter), search.WithMaxResults(c.Int("max")))
		if err != nil {
			return err
		}

		around := c.Int("context")
		for _, addr := range found {
			fmt.Fprintln(c.App.Writer, addrColor(addr.ToString()))
			if around <= 0 {
				continue
			}
			start := addr - process.ProcessMemoryAddress(min(uint64(addr), uint64(around/2)))
			data, err := e.target.ReadMemory(start, process.ProcessMemorySize(around+pat.Len()))
			if err != nil {
				continue
			}
			opts := hexdump.DefaultOptions()
			opts.Base = uint64(start)
			opts.Spans = []hexdump.Span{{Start: int(addr - start), Len: pat.Len()}}
			fmt.Fprint(c.App.Writer, hexdump.Dump(data, opts))
		}
		fmt.Fprintf(c.App.Writer, "%d matches for %s\n", len(found), pat)
		return nil
	}),
}

// runtimeProcess is a live process with a runtime module loaded.
type runtimeProcess struct {
	PID    int
	Name   string
	Module string
	Base   uint64
}

var psCmd = cli.Command{
	Name:  "ps",
	Usage: "list processes that have a Mono or IL2CPP runtime loaded",
	Action: func(c *cli.Context) error {
		profiles, err := selectProfiles(c)
		if err != nil {
			return err
		}
		var modules []string
		for _, p := range profiles {
			if !slices.Contains(modules, p.Module) {
				modules = append(modules, p.Module)
			}
		}

		found, err := listRuntimes(modules...)
		if err != nil {
			return err
		}
		slices.SortFunc(found, func(a, b runtimeProcess) int { return a.PID - b.PID })

		tbl := pod.NewTable(
			pod.ColumnSpec{Header: "PID", AlignRight: true},
			pod.ColumnSpec{Header: "Name"},
			pod.ColumnSpec{Header: "Runtime"},
			pod.ColumnSpec{Header: "Base", FormatFunc: addrColor},
		)
		for _, p := range found {
			tbl.AddRow(strconv.Itoa(p.PID), p.Name, p.Module, process.ProcessMemoryAddress(p.Base).ToString())
		}
		return tbl.Render(c.App.Writer)
	},
}
