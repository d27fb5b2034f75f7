package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"monomem/attach"
	"monomem/binding"
	"monomem/remote"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "attach to a record and print it whenever it changes",
	Description: `The descriptions file is a JSON array of record layouts. They are
   alternatives for one record: the first that binds is used. Each names a
   class, its fields and optionally the static singleton field holding the
   live instance:

   [{"class": "GameManager", "namespace": "Game", "singleton": "Instance",
     "fields": [{"name": "health", "kind": "f32"}, {"name": "lives", "kind": "i32"}]}]`,
	ArgsUsage: "<descriptions.json>",
	Flags: []cli.Flag{
		cli.DurationFlag{Name: "interval", Value: 250 * time.Millisecond, Usage: "poll interval"},
		cli.StringFlag{Name: "at", Usage: "instance address, for classes without a singleton"},
		cli.BoolFlag{Name: "json", Usage: "print one JSON object per change"},
		cli.IntFlag{Name: "count", Usage: "exit after this many changes"},
		cli.DurationFlag{Name: "timeout", Usage: "give up after this long"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		if err := checkArgs(c, 1, 1); err != nil {
			return err
		}
		descs, err := binding.LoadDescriptions(c.Args().First())
		if err != nil {
			return err
		}
		if len(descs) == 0 {
			return errors.New("no record descriptions in file")
		}

		var at remote.Ptr[remote.Object]
		if s := c.String("at"); s != "" {
			addr, err := parseAddress(s)
			if err != nil {
				return err
			}
			at = remote.NewPtr[remote.Object](addr)
			for _, d := range descs {
				d.Singleton = ""
			}
		}

		session, err := attach.NewSession(attach.Config{Profiles: e.profiles, Image: e.image, Layouts: descs})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if d := c.Duration("timeout"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		poll := func() (binding.Record, error) {
			if !at.IsNull() && session.State() < attach.Ready {
				if err := session.Bind(e.target); err != nil {
					return binding.Record{}, err
				}
				if err := session.SetInstance(at); err != nil {
					return binding.Record{}, err
				}
			}
			return session.Poll(e.target)
		}

		p := &recordPrinter{w: c.App.Writer, json: c.Bool("json"), session: session}
		count := c.Int("count")
		w := attach.NewWatcher(func(a, b binding.Record) bool { return a.Equal(b) })

		err = attach.Watch(ctx, c.Duration("interval"), w, poll,
			func(_, cur binding.Record) {
				p.record(cur)
				if count > 0 && p.changes >= count {
					cancel()
				}
			},
			func(err error) error {
				p.waiting(err)
				return nil
			},
		)

		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, context.DeadlineExceeded) && p.changes > 0:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("timed out in state %s: %w", session.State(), p.lastErr)
		}
		return err
	}),
}

type recordPrinter struct {
	w       io.Writer
	json    bool
	session *attach.Session

	changes int
	lastErr error
}

type recordJSON struct {
	Time     time.Time      `json:"time"`
	Class    string         `json:"class"`
	Layout   int            `json:"layout"`
	Instance string         `json:"instance"`
	Fields   map[string]any `json:"fields"`
}

func (p *recordPrinter) record(rec binding.Record) {
	p.changes++
	p.lastErr = nil

	if p.json {
		_ = json.NewEncoder(p.w).Encode(recordJSON{
			Time:     time.Now().UTC(),
			Class:    rec.Binding().Description.FullName(),
			Layout:   p.session.Layout,
			Instance: rec.Instance.String(),
			Fields:   rec.Map(),
		})
		return
	}
	fmt.Fprintf(p.w, "%s %s %s\n", time.Now().Format("15:04:05.000"), color.CyanString(rec.Instance.String()), rec)
}

// waiting reports an error once until it changes; polls repeat it constantly.
func (p *recordPrinter) waiting(err error) {
	if p.lastErr != nil && p.lastErr.Error() == err.Error() {
		return
	}
	p.lastErr = err
	if !p.json {
		fmt.Fprintln(p.w, color.HiBlackString("waiting (%s): %v", p.session.State(), err))
	}
}
