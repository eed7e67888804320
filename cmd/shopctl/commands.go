package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/Skotchmaster/blytz_client/internal/cart"
	"github.com/Skotchmaster/blytz_client/internal/checkout"
	"github.com/Skotchmaster/blytz_client/internal/session"
	"github.com/Skotchmaster/blytz_client/pkg/models"
)

const commandHelp = `commands:
  login <email> <password>
  register [-role buyer|seller] [-phone +1...] <email> <password> <first> <last>
  logout
  me
  update [-first X] [-last X] [-phone X] [-avatar URL]
  status
  cart list|clear
  cart add <product-id> <title> <price> [qty]
  cart remove|inc|dec <product-id>
  checkout`

var errUsage = errors.New("bad usage, run shopctl -h")

type app struct {
	sess *session.Store
	cart *cart.Store
	out  io.Writer
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		if len(rest) != 2 {
			return errUsage
		}
		if err := a.sess.Login(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		return a.print(a.sess.User())
	case "register":
		return a.register(ctx, rest)
	case "logout":
		if err := a.sess.Logout(ctx); err != nil {
			return err
		}
		return a.print(map[string]bool{"authenticated": false})
	case "me":
		u, err := a.sess.FetchProfile(ctx)
		if err != nil {
			return err
		}
		return a.print(u)
	case "update":
		return a.update(ctx, rest)
	case "status":
		st := a.sess.Snapshot()
		return a.print(map[string]any{
			"status":        st.Status.String(),
			"authenticated": st.IsAuthenticated(),
			"user":          st.User,
			"cart_items":    a.cart.ItemCount(),
		})
	case "cart":
		return a.cartCmd(ctx, rest)
	case "checkout":
		sum, err := checkout.Complete(ctx, a.sess, a.cart)
		if err != nil {
			return err
		}
		return a.print(sum)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	role := fs.String("role", models.RoleBuyer, "buyer or seller")
	phone := fs.String("phone", "", "phone in international format")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 4 {
		return errUsage
	}

	in := session.RegisterInput{
		Email:     fs.Arg(0),
		Password:  fs.Arg(1),
		FirstName: fs.Arg(2),
		LastName:  fs.Arg(3),
		Phone:     *phone,
		Role:      *role,
	}
	if err := a.sess.Register(ctx, in); err != nil {
		return err
	}
	return a.print(a.sess.User())
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var patch session.ProfilePatch
	fs.Func("first", "first name", func(v string) error { patch.FirstName = &v; return nil })
	fs.Func("last", "last name", func(v string) error { patch.LastName = &v; return nil })
	fs.Func("phone", "phone", func(v string) error { patch.Phone = &v; return nil })
	fs.Func("avatar", "avatar URL", func(v string) error { patch.AvatarURL = &v; return nil })
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := a.sess.UpdateProfile(ctx, patch)
	if err != nil {
		return err
	}
	return a.print(u)
}

func (a *app) cartCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
	case "clear":
		a.cart.Clear(ctx)
	case "add":
		if len(rest) < 3 || len(rest) > 4 {
			return errUsage
		}
		price, err := strconv.ParseFloat(rest[2], 64)
		if err != nil || !cart.ValidPrice(price) {
			return fmt.Errorf("price %q: %w", rest[2], errUsage)
		}
		qty := 1
		if len(rest) == 4 {
			if qty, err = strconv.Atoi(rest[3]); err != nil || qty < 1 {
				return fmt.Errorf("qty %q: %w", rest[3], errUsage)
			}
		}
		a.cart.AddItem(ctx, models.Product{ID: rest[0], Title: rest[1], Price: price}, qty)
	case "remove", "inc", "dec":
		if len(rest) != 1 {
			return errUsage
		}
		switch sub {
		case "remove":
			a.cart.RemoveItem(ctx, rest[0])
		case "inc":
			a.cart.UpdateQuantity(ctx, rest[0], 1)
		case "dec":
			a.cart.UpdateQuantity(ctx, rest[0], -1)
		}
	default:
		return fmt.Errorf("unknown cart command %q: %w", sub, errUsage)
	}

	c := a.cart.Cart()
	return a.print(map[string]any{
		"items":      c.Lines(),
		"total":      c.Total(),
		"item_count": c.ItemCount(),
	})
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
