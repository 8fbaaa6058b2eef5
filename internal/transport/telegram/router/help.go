package router

import (
	"context"
	"sort"

	"coefbot/pkg/tgui"
)

func (r *Router) helpCommand() Command {
	return Command{
		Name:        "help",
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpMessage(r.aclSnapshot().Admin(req.FromID)))
			return err
		},
	}
}

// helpMessage lists visible commands; admin commands only for admins.
func (r *Router) helpMessage(admin bool) tgui.Message {
	r.mu.RLock()
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Hidden || (c.Access == AccessAdmin && !admin) {
			continue
		}
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	b := tgui.New().Title("ℹ️", "Available commands:").Blank()
	for _, c := range cmds {
		line := tgui.JoinH(" - ", tgui.Esc("/"+c.Name), tgui.Esc(c.Description))
		if c.Access == AccessAdmin {
			line = tgui.JoinH(" ", line, tgui.Esc("🔒"))
		}
		b.HTML(line)
	}
	return b.Build()
}
