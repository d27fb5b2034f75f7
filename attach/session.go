// Package attach drives the mono model from "nothing found yet" to a bound,
// decodable record, one step per poll.
//
// The target is usually still starting when the tool attaches: the runtime
// module is mapped late, images load over the first seconds, and singletons
// stay null until the game sets them. Every one of those is an ordinary
// error from package mono; Session keeps what it already resolved and
// retries only the step that failed.
package attach

import (
	"errors"
	"fmt"

	"monomem/binding"
	"monomem/mono"
	"monomem/process"
	"monomem/remote"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// ErrNoSingleton is returned once the record is bound when its layout names
// no singleton field. It is permanent: supply the instance with
// SetInstance, or call Bind instead of Attach.
var ErrNoSingleton = errors.New("layout has no singleton field")

// State is how far a Session has resolved.
type State int

const (
	Unattached State = iota
	ModuleFound
	ImageFound
	ClassBound
	Ready
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case ModuleFound:
		return "module-found"
	case ImageFound:
		return "image-found"
	case ClassBound:
		return "class-bound"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Target is what a Session reads from: a live process or a loaded dump.
type Target interface {
	process.Reader
	process.ModuleFinder
}

// Config names what to attach to.
type Config struct {
	// Profiles are tried in order until one's module is loaded.
	Profiles []mono.Profile

	// Image is the assembly holding the class, e.g. "Assembly-CSharp".
	Image string

	// Layouts are alternative descriptions of the same record; the first
	// that binds wins. Its Singleton names the static field holding the
	// instance. With no singleton the caller supplies the instance.
	Layouts []*binding.Description
}

func (c Config) validate() error {
	if len(c.Profiles) == 0 {
		return errors.New("attach: no runtime profiles")
	}
	if c.Image == "" {
		return errors.New("attach: no image name")
	}
	if len(c.Layouts) == 0 {
		return errors.New("attach: no record layouts")
	}
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("attach: %w", err)
		}
	}
	for _, d := range c.Layouts {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("attach: %w", err)
		}
	}
	return nil
}

// Session is the attachment state machine. It is not safe for concurrent use.
type Session struct {
	cfg   Config
	state State
	log   *logger.Logger

	Runtime  *mono.Runtime
	Profile  mono.Profile
	Image    *mono.Image
	Binding  *binding.RecordBinding
	Layout   int // index into Config.Layouts of the bound layout
	Instance remote.Ptr[remote.Object]
}

func NewSession(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:    cfg,
		Layout: -1,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "attach")),
	}, nil
}

func (s *Session) State() State {
	return s.state
}

// Reset forgets everything, e.g. after the target restarted.
func (s *Session) Reset() {
	if s.state != Unattached {
		s.log.Infoln("reset from", s.state)
	}
	s.state = Unattached
	s.Runtime = nil
	s.Profile = mono.Profile{}
	s.Image = nil
	s.Binding = nil
	s.Layout = -1
	s.Instance = remote.Ptr[remote.Object]{}
}

// SetInstance supplies the instance for a layout without a singleton field
// and moves a bound session to Ready.
func (s *Session) SetInstance(inst remote.Ptr[remote.Object]) error {
	if s.state < ClassBound {
		return fmt.Errorf("attach: cannot set instance while %s", s.state)
	}
	if inst.IsNull() {
		return fmt.Errorf("attach: instance: %w", remote.ErrNullPointer)
	}
	s.Instance = inst
	s.advance(Ready, "instance", inst)
	return nil
}

func (s *Session) advance(to State, what ...any) {
	s.log.Infoln(append([]any{s.state, "->", to}, what...)...)
	s.state = to
}

// Step performs the work of the current state and advances at most one
// state. A nil error with State() == Ready means there is nothing left to
// resolve. A failed step leaves the state unchanged.
func (s *Session) Step(t Target) error {
	switch s.state {
	case Unattached:
		rt, profile, err := mono.LocateAny(t, s.cfg.Profiles...)
		if err != nil {
			return err
		}
		s.Runtime, s.Profile = rt, profile
		s.advance(ModuleFound, profile.String(), "at", rt.Module.Base.ToString())

	case ModuleFound:
		img, err := s.Runtime.FindImage(t, s.cfg.Image)
		if err != nil {
			return err
		}
		s.Image = img
		s.advance(ImageFound, img.Name, "classes:", img.ClassCapacity())

	case ImageFound:
		rb, idx, err := binding.Probe(t, s.Image, s.cfg.Layouts...)
		if err != nil {
			return err
		}
		s.Binding, s.Layout = rb, idx
		s.advance(ClassBound, rb.Description.FullName(), "layout", idx)

	case ClassBound:
		field := s.Binding.Description.Singleton
		if field == "" {
			return fmt.Errorf("attach: %s: %w: %w", s.Binding.Description.FullName(), ErrNoSingleton, ErrPermanent)
		}
		inst, err := s.Binding.Class.FindSingleton(t, field)
		if err != nil {
			return err
		}
		s.Instance = inst
		s.advance(Ready, "instance", inst)
	}
	return nil
}

// Bind steps until the record is bound, stopping short of the singleton.
// It is for callers that supply the instance themselves.
func (s *Session) Bind(t Target) error {
	for s.state < ClassBound {
		if err := s.Step(t); err != nil {
			return err
		}
	}
	return nil
}

// Attach steps until Ready or the first error. A layout without a
// singleton fails with ErrNoSingleton unless SetInstance was called.
func (s *Session) Attach(t Target) error {
	for s.state != Ready {
		if err := s.Step(t); err != nil {
			return err
		}
	}
	return nil
}

// Poll attaches as far as it can and decodes one record. When decoding
// fails with a non-fatal error the session drops back to ClassBound so the
// next poll re-reads the singleton; the instance may have been replaced.
func (s *Session) Poll(t Target) (binding.Record, error) {
	if err := s.Attach(t); err != nil {
		if !IsFatal(err) {
			s.log.Debugln("waiting in", s.state, err)
		}
		return binding.Record{}, err
	}

	rec, err := s.Binding.Decode(t, s.Instance)
	if err != nil {
		if !IsFatal(err) && s.Binding.Description.Singleton != "" {
			s.log.Debugln("decode failed, re-reading singleton:", err)
			s.state = ClassBound
			s.Instance = remote.Ptr[remote.Object]{}
		}
		return binding.Record{}, err
	}
	return rec, nil
}
