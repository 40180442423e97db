package domain

import (
	"fmt"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
)

const accountsPath = "/map1/accounts1"

// PrivilegeGroups maps the request-facing privilege names onto the
// device's group tokens.
var PrivilegeGroups = map[string]string{
	"admin":                   "admin",
	"config":                  "config",
	"remote_console":          "oemhp_rc",
	"virtual_media":           "oemhp_vm",
	"virtual_power_and_reset": "oemhp_power",
}

// UserState is the decoded account domain snapshot, scoped to one
// requested account name.
type UserState struct {
	// Accounts are all account names in device order, device spelling.
	Accounts []string

	// Exists reports whether the requested account was found. Account
	// names compare case-insensitively.
	Exists bool

	// Name is the device's spelling of the requested account.
	Name string

	// Groups are the account's group tokens in device order, when the
	// account exists.
	Groups []string
}

func (s *UserState) Kind() Kind { return KindUser }

func (s *UserState) Fields() map[string]string {
	fields := map[string]string{
		"accounts": strings.Join(s.Accounts, ", "),
	}
	if s.Exists {
		fields["name"] = s.Name
		fields["groups"] = strings.Join(s.Groups, ",")
	}
	return fields
}

// UserRequest is the desired state of one management account.
type UserRequest struct {
	// Name is the account name. Matching against the device is
	// case-insensitive.
	Name string

	// Password is the account password, used on creation and, when
	// UpdatePassword is set, on existing accounts.
	Password string

	// UpdatePassword forces a password set on an existing account.
	UpdatePassword bool

	// Privileges are request-facing privilege names (see
	// PrivilegeGroups). Order is preserved in the group assignment.
	Privileges []string

	// Absent requests deletion.
	Absent bool
}

func (r *UserRequest) Kind() Kind { return KindUser }

func (r *UserRequest) Validate() error {
	if r.Name == "" {
		return &RequestError{Message: "user name is required"}
	}
	if r.Absent {
		return nil
	}
	for _, p := range r.Privileges {
		if _, ok := PrivilegeGroups[p]; !ok {
			return &RequestError{Message: fmt.Sprintf("invalid privilege %q", p)}
		}
	}
	return nil
}

// groups renders the requested privileges as device group tokens,
// preserving request order. An account always belongs to at least one
// group; an empty request means plain login only.
func (r *UserRequest) groups() []string {
	tokens := make([]string, 0, len(r.Privileges))
	for _, p := range r.Privileges {
		tokens = append(tokens, PrivilegeGroups[p])
	}
	return tokens
}

// UserHandler decodes and plans the account domain.
type UserHandler struct{}

func (UserHandler) Kind() Kind { return KindUser }

func (UserHandler) FetchCommands(req Request) []Command {
	r := req.(*UserRequest)
	return []Command{
		{Text: "show " + accountsPath},
		{
			// Absence of the account is informative, not an error;
			// the decoder reads existence off this response.
			Text: "show " + accountsPath + "/" + r.Name,
			Check: func(doc *clp.Document) error {
				if !doc.Response.Ok() {
					return ErrAlreadySatisfied
				}
				return nil
			},
		},
	}
}

func (UserHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 2 {
		return nil, newMissing("accounts response")
	}
	block := docs[0].Block(accountsPath)
	if block == nil {
		return nil, newMissing(accountsPath)
	}

	state := &UserState{Accounts: block.Targets}

	if detail := docs[1].BlockPrefix(accountsPath + "/"); detail != nil && docs[1].Response.Ok() {
		state.Exists = true
		state.Name = strings.TrimPrefix(detail.Path, accountsPath+"/")
		if name, ok := detail.Get("username"); ok {
			state.Name = name
		}
		if groups, ok := detail.Get("group"); ok {
			for _, g := range strings.Split(groups, ",") {
				if g = strings.TrimSpace(g); g != "" {
					state.Groups = append(state.Groups, g)
				}
			}
		}
	}
	return state, nil
}

func (h UserHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*UserState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*UserRequest)
	if !ok {
		return nil, badKind(h, req)
	}

	if r.Absent {
		if !cur.Exists {
			return nil, &PreconditionError{Message: fmt.Sprintf("user %q does not exist", r.Name)}
		}
		return []Command{{Text: "delete " + accountsPath + "/" + cur.Name}}, nil
	}

	if !cur.Exists {
		if r.Password == "" {
			return nil, &RequestError{Message: "password is required to create a user"}
		}
		text := fmt.Sprintf("create %s username=%s password=%s", accountsPath, r.Name, r.Password)
		redacted := fmt.Sprintf("create %s username=%s password=********", accountsPath, r.Name)
		if groups := r.groups(); len(groups) > 0 {
			suffix := " group=" + strings.Join(groups, ",")
			text += suffix
			redacted += suffix
		}
		return []Command{{
			Text:     text,
			Redacted: redacted,
			Check: func(doc *clp.Document) error {
				if doc.Response.Contains("already exists") {
					return ErrAlreadySatisfied
				}
				return nil
			},
		}}, nil
	}

	var cmds []Command
	if want := r.groups(); !sameTokens(cur.Groups, want) {
		cmds = append(cmds, Command{
			Text: fmt.Sprintf("set %s/%s group=%s", accountsPath, cur.Name, strings.Join(want, ",")),
		})
	}
	if r.UpdatePassword && r.Password != "" {
		cmds = append(cmds, Command{
			Text:     fmt.Sprintf("set %s/%s password=%s", accountsPath, cur.Name, r.Password),
			Redacted: fmt.Sprintf("set %s/%s password=********", accountsPath, cur.Name),
		})
	}
	return cmds, nil
}

// sameTokens compares two token lists as sets.
func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	have := make(map[string]bool, len(a))
	for _, t := range a {
		have[t] = true
	}
	for _, t := range b {
		if !have[t] {
			return false
		}
	}
	return true
}

func (h UserHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*UserState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*UserRequest)

	if r.Absent {
		if cur.Exists {
			return VerifyMismatch, fmt.Sprintf("user %q still present", r.Name)
		}
		return VerifyConverged, ""
	}
	if !cur.Exists {
		return VerifyMismatch, fmt.Sprintf("user %q not present", r.Name)
	}
	if want := r.groups(); !sameTokens(cur.Groups, want) {
		return VerifyMismatch, fmt.Sprintf("user %q groups are %s, requested %s",
			r.Name, strings.Join(cur.Groups, ","), strings.Join(want, ","))
	}
	return VerifyConverged, ""
}
