package mailstore

// Flags describes a flag update. Nil fields leave the corresponding flag
// unchanged, so a single call can set one flag without racing readers of
// the other.
type Flags struct {
	Read    *bool
	Starred *bool
}

// Empty reports whether the update changes nothing.
func (f Flags) Empty() bool {
	return f.Read == nil && f.Starred == nil
}

// MarkRead returns a Flags that sets the read flag.
func MarkRead() Flags { return Flags{Read: boolPtr(true)} }

// MarkUnread returns a Flags that clears the read flag.
func MarkUnread() Flags { return Flags{Read: boolPtr(false)} }

// Star returns a Flags that sets the starred flag.
func Star() Flags { return Flags{Starred: boolPtr(true)} }

// Unstar returns a Flags that clears the starred flag.
func Unstar() Flags { return Flags{Starred: boolPtr(false)} }

func boolPtr(b bool) *bool { return &b }
