package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"userhub.com/stream"
)

const StreamCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
}

func main() {
	usage := `Users stream control.

The default urls are:
    api_url: http://localhost:8080
    socket_url: ws://localhost:8080/ws/users

Usage:
    streamctl list [--config=<config>] [--api_url=<api_url>]
    streamctl get <user_id> [--config=<config>] [--api_url=<api_url>]
    streamctl create --name=<name> --email=<email>
        [--config=<config>] [--api_url=<api_url>]
    streamctl delete <user_id> [--config=<config>] [--api_url=<api_url>]
    streamctl test-error [--config=<config>] [--api_url=<api_url>]
    streamctl watch [--config=<config>] [--socket_url=<socket_url>]
    streamctl tick [--interval=<seconds>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Config path [default: streamctl.toml].
    --api_url=<api_url>        Override the api base url.
    --socket_url=<socket_url>  Override the socket url.
    --name=<name>
    --email=<email>
    --interval=<seconds>       Tick interval [default: 1].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], StreamCtlVersion)
	if err != nil {
		panic(err)
	}

	configPath, _ := opts.String("--config")
	config, err := stream.LoadConfig(configPath)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		config.ApiUrl = apiUrl
		config.UseDirectApi = true
	}
	if socketUrl, err := opts.String("--socket_url"); err == nil && socketUrl != "" {
		config.SocketUrl = socketUrl
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if list, _ := opts.Bool("list"); list {
		listUsers(cancelCtx, config)
	} else if get, _ := opts.Bool("get"); get {
		getUser(cancelCtx, config, requireUserId(opts))
	} else if create, _ := opts.Bool("create"); create {
		name, _ := opts.String("--name")
		email, _ := opts.String("--email")
		createUser(cancelCtx, config, name, email)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteUser(cancelCtx, config, requireUserId(opts))
	} else if testError, _ := opts.Bool("test-error"); testError {
		runTestError(cancelCtx, config)
	} else if watch, _ := opts.Bool("watch"); watch {
		watchUsers(cancelCtx, config)
	} else if tick, _ := opts.Bool("tick"); tick {
		seconds, err := opts.Int("--interval")
		if err != nil || seconds < 1 {
			seconds = 1
		}
		tickUsers(cancelCtx, time.Duration(seconds)*time.Second)
	}
}

func requireUserId(opts docopt.Opts) int64 {
	userIdStr, err := opts.String("<user_id>")
	if err != nil {
		Err.Fatalf("missing user id")
	}
	userId, err := strconv.ParseInt(userIdStr, 10, 64)
	if err != nil {
		Err.Fatalf("bad user id: %s", userIdStr)
	}
	return userId
}

func listUsers(ctx context.Context, config *stream.Config) {
	api := stream.NewUserApiWithContext(ctx, config.BaseUrl())
	defer api.Close()

	query := stream.NewQuery[[]*stream.User](ctx)
	defer query.Close()

	query.Start(
		stream.Resilient(
			stream.Shared(api.UsersProducer()),
			stream.DefaultResilienceSettings(),
		),
		nil,
	)

	state, err := query.WaitFor(ctx, func(state stream.QueryState[[]*stream.User]) bool {
		return !state.Loading
	})
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if state.Err != nil {
		Err.Fatalf("%s", state.Err)
	}
	printUsers(state.Data)
}

func getUser(ctx context.Context, config *stream.Config, userId int64) {
	api := stream.NewUserApiWithContext(ctx, config.BaseUrl())
	defer api.Close()

	query := stream.NewQuery[*stream.User](ctx)
	defer query.Close()

	query.Start(
		stream.Resilient(api.UserProducer(userId), stream.DefaultResilienceSettings()),
		[]any{userId},
	)

	state, err := query.WaitFor(ctx, func(state stream.QueryState[*stream.User]) bool {
		return !state.Loading
	})
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if state.Err != nil {
		Err.Fatalf("%s", state.Err)
	}
	printUsers([]*stream.User{state.Data})
}

func createUser(ctx context.Context, config *stream.Config, name string, email string) {
	api := stream.NewUserApiWithContext(ctx, config.BaseUrl())
	defer api.Close()

	mutation := stream.NewMutation(ctx, func(ctx context.Context, args *stream.CreateUserArgs) (*stream.User, error) {
		return api.CreateUserSync(args)
	})
	defer mutation.Close()

	done := make(chan struct{})
	mutation.Mutate(&stream.CreateUserArgs{Name: name, Email: email}, stream.MutationCallbacks[*stream.User]{
		OnSuccess: func(user *stream.User) {
			Out.Printf("created %d\t%s\t%s", user.Id, user.Name, user.Email)
			close(done)
		},
		OnError: func(err *stream.ApiError) {
			Err.Printf("%s", err)
			close(done)
		},
	})
	<-done
}

func deleteUser(ctx context.Context, config *stream.Config, userId int64) {
	api := stream.NewUserApiWithContext(ctx, config.BaseUrl())
	defer api.Close()

	mutation := stream.NewMutation(ctx, func(ctx context.Context, userId int64) (*stream.RemoveUserResult, error) {
		return api.RemoveUserSync(userId)
	})
	defer mutation.Close()

	done := make(chan struct{})
	mutation.Mutate(userId, stream.MutationCallbacks[*stream.RemoveUserResult]{
		OnSuccess: func(result *stream.RemoveUserResult) {
			Out.Printf("deleted %d", userId)
			close(done)
		},
		OnError: func(err *stream.ApiError) {
			Err.Printf("%s", err)
			close(done)
		},
	})
	<-done
}

func runTestError(ctx context.Context, config *stream.Config) {
	api := stream.NewUserApiWithContext(ctx, config.BaseUrl())
	defer api.Close()

	_, err := api.TestErrorSync()
	if err == nil {
		Err.Fatalf("expected an error")
	}
	Out.Printf("%s", err)
}

func watchUsers(ctx context.Context, config *stream.Config) {
	sigCtx, sigCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	socket := stream.NewSocketWithDefaults(sigCtx, config.SocketUrl)
	defer socket.Close()

	removeListener := socket.Status().AddListener(func(status stream.ConnectionStatus) {
		Out.Printf("status: %s", status)
	})
	defer removeListener()

	if err := socket.Connect(); err != nil {
		Err.Fatalf("%s", err)
	}

	messages, unsubscribe := socket.Subscribe()
	defer unsubscribe()

	reconciler := stream.NewReconciler()
	reconciler.Watch(sigCtx, messages)

	for {
		notify := reconciler.NotifyChannel()
		select {
		case <-sigCtx.Done():
			socket.Disconnect()
			return
		case <-notify:
			printUsers(reconciler.Users())
		}
	}
}

func tickUsers(ctx context.Context, interval time.Duration) {
	users := []*stream.User{
		{Id: 1, Name: "Alice", Email: "alice@example.com"},
		{Id: 2, Name: "Bob", Email: "bob@example.com"},
		{Id: 3, Name: "Carol", Email: "carol@example.com"},
	}
	producer := stream.TickerUsers(users, interval)
	err := producer(ctx, func(user *stream.User) {
		Out.Printf("%d\t%s\t%s", user.Id, user.Name, user.Email)
	})
	if err != nil && ctx.Err() == nil {
		Err.Fatalf("%s", err)
	}
}

func printUsers(users []*stream.User) {
	Out.Printf("%d users", len(users))
	for _, user := range users {
		Out.Printf("%d\t%s\t%s", user.Id, user.Name, user.Email)
	}
}
