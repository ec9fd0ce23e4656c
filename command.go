package mpdmux

import (
	"strings"
)

// commands maps every supported command name to the decode shape of its
// reply. Underscores in a name are rendered as spaces on the wire, so
// "replay_gain_status" is sent as "replay gain status". Unknown names are a
// caller error, rejected by NewCommand before anything touches the wire.
var commands = map[string]decodeFunc{
	"add":                decodeEmpty,
	"addid":              decodeValue,
	"addtagid":           decodePairs,
	"channels":           decodeList,
	"clear":              decodeEmpty,
	"clearerror":         decodeEmpty,
	"cleartagid":         decodePairs,
	"close":              decodeEmpty,
	"commands":           decodeList,
	"config":             decodeAttrs,
	"consume":            decodeEmpty,
	"count":              decodeAttrs,
	"crossfade":          decodeEmpty,
	"currentsong":        decodeAttrs,
	"decoders":           decodeLists,
	"delete":             decodeEmpty,
	"deleteid":           decodeEmpty,
	"delpartition":       decodeEmpty,
	"disableoutput":      decodeEmpty,
	"enableoutput":       decodeEmpty,
	"find":               decodeGroup,
	"findadd":            decodeEmpty,
	"kill":               decodeEmpty,
	"list":               decodeList,
	"listall":            decodeLists,
	"listallinfo":        decodeMarkedGroups,
	"listfiles":          decodeMarkedGroups,
	"listmounts":         decodeGroup,
	"listneighbors":      decodeGroup,
	"listpartitions":     decodeList,
	"listplaylist":       decodeList,
	"listplaylistinfo":   decodeGroup,
	"listplaylists":      decodeGroup,
	"load":               decodeEmpty,
	"lsinfo":             decodeMarkedGroups,
	"mixrampdb":          decodeEmpty,
	"mixrampdelay":       decodeEmpty,
	"mount":              decodePairs,
	"move":               decodeEmpty,
	"moveid":             decodeEmpty,
	"moveoutput":         decodeEmpty,
	"newpartition":       decodeEmpty,
	"next":               decodeEmpty,
	"notcommands":        decodeList,
	"outputs":            decodeGroup,
	"partition":          decodeEmpty,
	"password":           decodeEmpty,
	"pause":              decodeEmpty,
	"ping":               decodeEmpty,
	"play":               decodeEmpty,
	"playid":             decodeEmpty,
	"playlist":           decodeList,
	"playlistadd":        decodeEmpty,
	"playlistclear":      decodeEmpty,
	"playlistdelete":     decodeEmpty,
	"playlistfind":       decodeGroup,
	"playlistid":         decodeGroup,
	"playlistinfo":       decodeGroup,
	"playlistmove":       decodeEmpty,
	"playlistsearch":     decodeGroup,
	"plchanges":          decodeGroup,
	"plchangesposid":     decodeGroup,
	"previous":           decodeEmpty,
	"prio":               decodeEmpty,
	"prioid":             decodeEmpty,
	"random":             decodeEmpty,
	"rangeid":            decodeEmpty,
	"readcomments":       decodeAttrs,
	"readmessages":       decodeGroup,
	"rename":             decodeEmpty,
	"repeat":             decodeEmpty,
	"replay_gain_mode":   decodeEmpty,
	"replay_gain_status": decodeValue,
	"rescan":             decodeValue,
	"rm":                 decodeEmpty,
	"save":               decodeEmpty,
	"search":             decodeGroup,
	"searchadd":          decodeEmpty,
	"searchaddpl":        decodeEmpty,
	"seek":               decodeEmpty,
	"seekcur":            decodeEmpty,
	"seekid":             decodeEmpty,
	"sendmessage":        decodeEmpty,
	"setvol":             decodeEmpty,
	"shuffle":            decodeEmpty,
	"single":             decodeEmpty,
	"stats":              decodeAttrs,
	"status":             decodeAttrs,
	"sticker":            decodePairs,
	"sticker_delete":     decodeEmpty,
	"sticker_find":       decodeGroup,
	"sticker_get":        decodeValue,
	"sticker_list":       decodeList,
	"sticker_set":        decodeEmpty,
	"stop":               decodeEmpty,
	"subscribe":          decodeEmpty,
	"swap":               decodeEmpty,
	"swapid":             decodeEmpty,
	"tagtypes":           decodeList,
	"toggleoutput":       decodeEmpty,
	"unmount":            decodePairs,
	"unsubscribe":        decodeEmpty,
	"update":             decodeValue,
	"urlhandlers":        decodeList,
	"volume":             decodeEmpty,}

// Command is one protocol command with its arguments, ready to be sent
// through an Executor. Create instances with NewCommand.
type Command struct {
	name   string
	line   string
	decode decodeFunc
}

// NewCommand builds a command from its catalogued name and arguments.
// String arguments are double-quoted with backslash and quote escaping;
// other scalars use their natural textual form. An unknown name yields a
// CommandError.
func NewCommand(name string, args ...any) (*Command, error) {
	decode, known := commands[name]
	if !known {
		return nil, &CommandError{Name: name, Reason: "unknown command"}
	}
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(name, "_", " "))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(Quote(arg))
	}
	return &Command{name: name, line: b.String(), decode: decode}, nil
}

// Name returns the catalogued command name.
func (c *Command) Name() string {
	return c.name
}

// String returns the command's wire line, without the trailing newline.
func (c *Command) String() string {
	return c.line
}

// CommandList is an ordered batch of commands sent as one wire transaction.
// It resolves to the ordered per-member results, or fails atomically at the
// first failing member. Only plain commands can be batched; the constructor
// signature makes nesting lists or subscriptions a compile error.
type CommandList struct {
	members []*Command
}

// NewCommandList builds a batch from the given commands. An empty batch is
// permitted and resolves to an empty result list.
func NewCommandList(cmds ...*Command) *CommandList {
	return &CommandList{members: append([]*Command(nil), cmds...)}
}

// Commands returns the batch members in order.
func (cl *CommandList) Commands() []*Command {
	return cl.members
}

// String returns the batch's wire representation: the begin marker, one
// member line each, and the end marker, newline-separated.
func (cl *CommandList) String() string {
	lines := make([]string, 0, len(cl.members)+2)
	lines = append(lines, ListBeginCommand)
	for _, c := range cl.members {
		lines = append(lines, c.line)
	}
	lines = append(lines, ListEndCommand)
	return strings.Join(lines, "\n")
}
