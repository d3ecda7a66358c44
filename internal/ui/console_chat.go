package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "%s interactive chat started!\n", opts.title())
	fmt.Fprintln(out, helpText)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nChat interrupted. Goodbye!")
			return nil
		default:
		}

		fmt.Fprint(out, "\nYou: ")
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)

		switch ParseCommand(line) {
		case CommandQuit:
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case CommandHistory:
			fmt.Fprintln(out, FormatHistory(backend.History()))
			continue
		case CommandClear:
			backend.Clear()
			fmt.Fprintln(out, "Chat history cleared!")
			continue
		case CommandInfo:
			fmt.Fprintln(out, FormatInfo(backend.Info()))
			continue
		case CommandModel:
			fmt.Fprintln(out, SwitchModel(ctx, opts, line))
			continue
		}
		if line == "" {
			fmt.Fprintln(out, "Please enter a message.")
			continue
		}

		fmt.Fprint(out, "Assistant: ")
		fmt.Fprintln(out, backend.Send(ctx, line))
	}
}
