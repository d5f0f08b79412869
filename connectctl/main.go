package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/mahnoor418/Connect/connect"
)

const ConnectCtlVersion = "0.0.1"

const defaultApiUrl = "http://127.0.0.1:5000/api"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Connect control.

The default api url is http://127.0.0.1:5000/api. It can also be set with
CONNECT_API_URL in the environment or a .env file.

Usage:
    connectctl login [--api_url=<api_url>] --email=<email>
    connectctl feed [--api_url=<api_url>] --jwt=<jwt>
    connectctl profile [--api_url=<api_url>] --jwt=<jwt> <user_id>
    connectctl search [--api_url=<api_url>] --jwt=<jwt> <query>
    connectctl like [--api_url=<api_url>] --jwt=<jwt> <post_id>
    connectctl comment [--api_url=<api_url>] --jwt=<jwt> <post_id> <text>
    connectctl follow [--api_url=<api_url>] --jwt=<jwt> <user_id>
    connectctl unfollow [--api_url=<api_url>] --jwt=<jwt> <user_id>
    connectctl post [--api_url=<api_url>] --jwt=<jwt> --description=<description>
        [--mentions=<mentions>] [--media=<media>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --api_url=<api_url>
    --email=<email>                Login email. The password is prompted.
    --jwt=<jwt>                    Your platform JWT.
    --description=<description>    Post description.
    --mentions=<mentions>          Comma-separated mentioned usernames.
    --media=<media>                Path of a media file to attach.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ConnectCtlVersion)
	if err != nil {
		panic(err)
	}

	// optional env config
	godotenv.Load()

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		profile(opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		search(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(opts, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		follow(opts, false)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	}
}

func newClient(opts docopt.Opts) *connect.Client {
	apiUrl, err := opts.String("--api_url")
	if err != nil || apiUrl == "" {
		apiUrl = os.Getenv("CONNECT_API_URL")
	}
	if apiUrl == "" {
		apiUrl = defaultApiUrl
	}

	client := connect.NewClientWithDefaults(apiUrl)

	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		client.Session.SetToken(jwt)
	}

	client.Store.AddNoticeCallback(func(notice *connect.Notice) {
		if notice.Level == connect.NoticeLevelError {
			Err.Printf("%s\n", notice.Message)
		} else {
			Out.Printf("%s\n", notice.Message)
		}
	})

	return client
}

func login(opts docopt.Opts) {
	email, _ := opts.String("--email")

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Printf("could not read password: %v\n", err)
		os.Exit(1)
	}

	client := newClient(opts)
	defer client.Close()

	result, err := client.Login(email, string(passwordBytes))
	if err != nil {
		Err.Printf("login failed: %v\n", err)
		os.Exit(1)
	}

	Out.Printf("%s", result.Token)
}

func feed(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	done := make(chan error, 1)
	client.Reconciler.RefreshFeed(func(err error) {
		done <- err
	})
	if err := <-done; err != nil {
		os.Exit(1)
	}

	for _, post := range client.Store.Feed() {
		printPost(post)
	}
}

func profile(opts docopt.Opts) {
	userId, _ := opts.String("<user_id>")

	client := newClient(opts)
	defer client.Close()

	done := make(chan error, 1)
	client.Reconciler.RefreshProfile(connect.Id(userId), func(err error) {
		done <- err
	})
	if err := <-done; err != nil {
		os.Exit(1)
	}

	user, ok := client.Store.Profile(connect.Id(userId))
	if !ok {
		os.Exit(1)
	}
	Out.Printf("%s (%s)\n", user.Username, user.Id)
	Out.Printf("    %s\n", user.Bio)
	Out.Printf("    %d followers, %d following\n", len(user.Followers), len(user.Following))
	for _, post := range user.PostsData {
		printPost(post)
	}
}

func search(opts docopt.Opts) {
	query, _ := opts.String("<query>")

	client := newClient(opts)
	defer client.Close()

	results, err := client.Api.SearchUsersSync(&connect.SearchUsersArgs{
		Query: query,
	})
	if err != nil {
		Err.Printf("search failed: %v\n", err)
		os.Exit(1)
	}

	for _, result := range results {
		Out.Printf(
			"%s (%s) %d posts, %d followers\n",
			result.Username,
			result.Id,
			result.PostCount,
			result.FollowerCount,
		)
	}
}

func like(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")

	client := newClient(opts)
	defer client.Close()

	// the engine mutates posts the store holds, so load the feed first
	loadFeed(client)

	done := make(chan error, 1)
	if err := client.Engine.ToggleLike(connect.Id(postId), func(err error) {
		done <- err
	}); err != nil {
		Err.Printf("like failed: %v\n", err)
		os.Exit(1)
	}
	if err := <-done; err != nil {
		os.Exit(1)
	}

	if post, ok := client.Store.Post(connect.Id(postId)); ok {
		Out.Printf("%d likes\n", len(post.Likes))
	}
}

func comment(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")
	text, _ := opts.String("<text>")

	client := newClient(opts)
	defer client.Close()

	loadFeed(client)

	done := make(chan error, 1)
	if err := client.Engine.AppendComment(connect.Id(postId), text, func(err error) {
		done <- err
	}); err != nil {
		Err.Printf("comment failed: %v\n", err)
		os.Exit(1)
	}
	if err := <-done; err != nil {
		os.Exit(1)
	}
}

func follow(opts docopt.Opts, following bool) {
	userId, _ := opts.String("<user_id>")

	client := newClient(opts)
	defer client.Close()

	// load the profile so the engine can compute the toggle direction
	loadProfile(client, connect.Id(userId))

	user, ok := client.Store.Profile(connect.Id(userId))
	if !ok {
		os.Exit(1)
	}
	viewerId, hasViewer := client.Session.CurrentUserId()
	if !hasViewer {
		Err.Printf("no identity\n")
		os.Exit(1)
	}
	if user.HasFollower(viewerId) == following {
		Out.Printf("already done\n")
		return
	}

	done := make(chan error, 1)
	if err := client.Engine.ToggleFollow(connect.Id(userId), func(err error) {
		done <- err
	}); err != nil {
		Err.Printf("follow failed: %v\n", err)
		os.Exit(1)
	}
	if err := <-done; err != nil {
		os.Exit(1)
	}

	if user, ok := client.Store.Profile(connect.Id(userId)); ok {
		Out.Printf("%d followers\n", len(user.Followers))
	}
}

func post(opts docopt.Opts) {
	description, _ := opts.String("--description")

	args := &connect.CreatePostArgs{
		Description: description,
	}
	if mentions, err := opts.String("--mentions"); err == nil && mentions != "" {
		for _, mention := range strings.Split(mentions, ",") {
			if mention = strings.TrimSpace(mention); mention != "" {
				args.Mentions = append(args.Mentions, mention)
			}
		}
	}
	if mediaPath, err := opts.String("--media"); err == nil && mediaPath != "" {
		media, err := os.ReadFile(mediaPath)
		if err != nil {
			Err.Printf("could not read media: %v\n", err)
			os.Exit(1)
		}
		args.MediaName = mediaPath
		args.Media = media
	}

	client := newClient(opts)
	defer client.Close()

	done := make(chan error, 1)
	if err := client.Engine.CreatePost(args, func(err error) {
		done <- err
	}); err != nil {
		Err.Printf("post failed: %v\n", err)
		os.Exit(1)
	}
	if err := <-done; err != nil {
		os.Exit(1)
	}
}

func loadFeed(client *connect.Client) {
	done := make(chan error, 1)
	client.Reconciler.RefreshFeed(func(err error) {
		done <- err
	})
	select {
	case err := <-done:
		if err != nil {
			os.Exit(1)
		}
	case <-time.After(60 * time.Second):
		Err.Printf("feed load timeout\n")
		os.Exit(1)
	}
}

func loadProfile(client *connect.Client, userId connect.Id) {
	done := make(chan error, 1)
	client.Reconciler.RefreshProfile(userId, func(err error) {
		done <- err
	})
	select {
	case err := <-done:
		if err != nil {
			os.Exit(1)
		}
	case <-time.After(60 * time.Second):
		Err.Printf("profile load timeout\n")
		os.Exit(1)
	}
}

func printPost(post *connect.Post) {
	Out.Printf("%s %s\n", post.Id, post.Description)
	Out.Printf("    %d likes, %d comments\n", len(post.Likes), len(post.Comments))
	for _, comment := range post.Comments {
		Out.Printf("    %s: %s\n", comment.Username, comment.Text)
	}
}
