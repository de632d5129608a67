package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hkinc45/dev-kitchen-session/models"
	"github.com/hkinc45/dev-kitchen-session/session"
	"github.com/hkinc45/dev-kitchen-session/store"
)

const usage = `commands:
  login EMAIL PASSWORD
  signup EMAIL PASSWORD [first_name=.. last_name=.. credits=..]
  logout
  show
  provision FIRST_NAME LAST_NAME [CREDITS]
  profile key=value...        (first_name last_name dob user_type phone password)
  credits N
  add-address key=value...    (street city state zip label phone alt_phone)
  update-address ID key=value...
  delete-address ID
  refetch
  help
  quit`

// shell runs sessionctl commands against a reconciler and prints the settled view.
type shell struct {
	r           *session.Reconciler
	provisioner store.Provisioner
	out         io.Writer
	format      string
	wait        time.Duration
}

var errQuit = stderrors.New("quit")

func (s *shell) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "help":
		_, err = fmt.Fprintln(s.out, usage)
		return err
	case "quit", "exit":
		return errQuit
	case "show":
	case "login":
		if len(rest) != 2 {
			return fmt.Errorf("usage: login EMAIL PASSWORD")
		}
		_, err = s.r.Login(ctx, rest[0], rest[1])
	case "signup":
		err = s.signup(ctx, rest)
	case "logout":
		s.r.Logout(ctx)
	case "provision":
		err = s.provision(ctx, rest)
	case "profile":
		err = s.updateProfile(ctx, rest)
	case "credits":
		if len(rest) != 1 {
			return fmt.Errorf("usage: credits N")
		}
		n, perr := strconv.Atoi(rest[0])
		if perr != nil {
			return fmt.Errorf("credits must be an integer: %w", perr)
		}
		_, err = s.r.UpdateCredits(ctx, n)
	case "add-address":
		in, perr := addressInput(rest)
		if perr != nil {
			return perr
		}
		_, err = s.r.AddAddress(ctx, in)
	case "update-address":
		if len(rest) < 1 {
			return fmt.Errorf("usage: update-address ID key=value...")
		}
		in, perr := addressInput(rest[1:])
		if perr != nil {
			return perr
		}
		_, err = s.r.UpdateAddress(ctx, rest[0], in)
	case "delete-address":
		if len(rest) != 1 {
			return fmt.Errorf("usage: delete-address ID")
		}
		_, err = s.r.DeleteAddress(ctx, rest[0])
	case "refetch":
		if _, err = s.r.RefetchProfile(ctx); err == nil {
			_, err = s.r.RefetchAddresses(ctx)
		}
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		return err
	}
	return s.render(s.settle(ctx))
}

func (s *shell) signup(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: signup EMAIL PASSWORD [key=value...]")
	}
	attrs, err := parseKV(args[2:])
	if err != nil {
		return err
	}
	identity, err := s.r.Signup(ctx, args[0], args[1], attrs)
	if err != nil {
		return err
	}
	if attrs["first_name"] == "" || attrs["last_name"] == "" || s.provisioner == nil {
		return nil
	}
	credits := 0
	if raw := attrs["credits"]; raw != "" {
		if credits, err = strconv.Atoi(raw); err != nil {
			return fmt.Errorf("credits must be an integer: %w", err)
		}
	}
	return s.createProfile(ctx, identity.ID, attrs["first_name"], attrs["last_name"], credits)
}

func (s *shell) provision(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: provision FIRST_NAME LAST_NAME [CREDITS]")
	}
	id := s.r.CurrentIdentityID()
	if id == "" {
		return session.ErrNoSession
	}
	credits := 0
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("credits must be an integer: %w", err)
		}
		credits = n
	}
	return s.createProfile(ctx, id, args[0], args[1], credits)
}

func (s *shell) createProfile(ctx context.Context, id, first, last string, credits int) error {
	if s.provisioner == nil {
		return fmt.Errorf("provisioning is not available")
	}
	if _, err := s.provisioner.CreateProfile(ctx, models.Profile{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Credits:   credits,
	}); err != nil {
		return fmt.Errorf("failed to provision profile: %w", err)
	}
	// Provisioning event subscribers refetch as well; this covers runs without NATS.
	_, err := s.r.RefetchProfile(ctx)
	return err
}

func (s *shell) updateProfile(ctx context.Context, args []string) error {
	kv, err := parseKV(args)
	if err != nil {
		return err
	}
	var patch models.ProfilePatch
	for k, v := range kv {
		switch k {
		case "first_name":
			patch.FirstName = &v
		case "last_name":
			patch.LastName = &v
		case "dob":
			patch.DOB = &v
		case "user_type":
			patch.UserType = &v
		case "phone":
			patch.Phone = &v
		case "password":
			patch.Password = &v
		default:
			return fmt.Errorf("unknown profile field %q", k)
		}
	}
	_, err = s.r.UpdateProfile(ctx, patch)
	return err
}

func addressInput(args []string) (models.AddressInput, error) {
	kv, err := parseKV(args)
	if err != nil {
		return models.AddressInput{}, err
	}
	var in models.AddressInput
	for k, v := range kv {
		switch k {
		case "street":
			in.Street = v
		case "city":
			in.City = v
		case "state":
			in.State = v
		case "zip":
			in.Zip = v
		case "label":
			in.Label = &v
		case "phone":
			in.Phone = &v
		case "alt_phone":
			in.AltPhone = &v
		default:
			return models.AddressInput{}, fmt.Errorf("unknown address field %q", k)
		}
	}
	return in, nil
}

func parseKV(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[k] = v
	}
	return out, nil
}

// splitLine splits a shell line on whitespace. Double quotes group words.
func splitLine(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			inWord = true
		case (r == ' ' || r == '\t') && !inQuote:
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out, nil
}

func settled(v *session.View) bool {
	switch v.Phase {
	case session.PhaseAnonymous, session.PhaseReady:
		return !v.OverallLoading
	}
	return false
}

// settle waits until the view stops changing phase or s.wait elapses.
func (s *shell) settle(ctx context.Context) *session.View {
	views, stop := s.r.Watch()
	defer stop()
	timeout := time.NewTimer(s.wait)
	defer timeout.Stop()

	v := s.r.View()
	for !settled(v) {
		select {
		case next, ok := <-views:
			if !ok {
				return v
			}
			v = next
		case <-timeout.C:
			return v
		case <-ctx.Done():
			return v
		}
	}
	return v
}

func (s *shell) render(v *session.View) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode view: %w", err)
	}
	if s.format == "yaml" {
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to encode view: %w", err)
		}
		if data, err = yaml.Marshal(generic); err != nil {
			return fmt.Errorf("failed to encode view: %w", err)
		}
	}
	_, err = fmt.Fprintln(s.out, strings.TrimRight(string(data), "\n"))
	return err
}
