// Package main provides the Lens command line client, the reference
// consumer of the client core packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ondsel/lens-client/pkg/config"
	"github.com/ondsel/lens-client/pkg/curation"
	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/registry"
	"github.com/ondsel/lens-client/pkg/session"
	"github.com/ondsel/lens-client/pkg/sharelink"
	syncops "github.com/ondsel/lens-client/pkg/sync"
	"github.com/ondsel/lens-client/pkg/transport"
	"github.com/ondsel/lens-client/pkg/version"
	"github.com/ondsel/lens-client/pkg/watcher"
	"github.com/ondsel/lens-client/pkg/workspace"
)

type app struct {
	cfg  *config.Config
	sess *session.Manager
	ws   *workspace.Model
	reg  *registry.Registry
	eng  *syncops.Engine
}

func main() {
	wsID := flag.String("ws", "", "Workspace id")
	dirPath := flag.String("path", "", "Directory path inside the workspace (a/b/c)")
	message := flag.String("m", "", "Commit message (upload)")
	versionID := flag.String("version", "", "Version id (download, activate)")
	force := flag.Bool("force", false, "Override when the other side is newer")
	fromServer := flag.Bool("server", false, "Delete the server copy instead of the local one")
	email := flag.String("email", "", "Account email (login)")
	password := flag.String("password", "", "Account password (login)")

	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	client := transport.New(transport.Config{BaseURL: cfg.APIURL})
	sess := session.NewManager(session.Options{
		Client:             client,
		CredentialsPath:    config.CredentialsPath(),
		CacheDir:           cfg.CacheDir,
		ClearCacheOnLogout: cfg.ClearCacheOnLogout,
	})

	a := &app{cfg: cfg, sess: sess}
	a.ws = workspace.NewModel(sess, cfg.CacheDir)
	a.reg = registry.New(sess, cfg.CacheDir, nil)
	a.eng = syncops.NewEngine(sess, a.reg, cfg.CacheDir)

	cmd := args[0]
	cmdArgs := args[1:]
	ctx := context.Background()

	if cmd != "login" {
		if _, err := sess.Restore(); err != nil {
			logging.Warn("session restore failed", logging.Err(err))
		}
	}

	var cmdErr error
	switch cmd {
	case "login":
		cmdErr = a.cmdLogin(ctx, *email, *password)
	case "logout":
		sess.Logout(ctx)
	case "whoami":
		cmdErr = a.cmdWhoami()
	case "workspaces":
		cmdErr = a.cmdWorkspaces(ctx)
	case "ls", "status":
		cmdErr = a.cmdList(ctx, *wsID, *dirPath)
	case "upload":
		cmdErr = a.inDir(ctx, *wsID, *dirPath, func() error {
			return a.eng.Upload(ctx, need(cmdArgs, "file"), *message, *force)
		})
	case "download":
		cmdErr = a.cmdDownload(ctx, *wsID, *dirPath, need(cmdArgs, "file"), *versionID, *force)
	case "versions":
		cmdErr = a.cmdVersions(ctx, *wsID, *dirPath, need(cmdArgs, "file"))
	case "activate":
		cmdErr = a.cmdActivate(ctx, *wsID, *dirPath, need(cmdArgs, "file"), *versionID)
	case "rm":
		cmdErr = a.inDir(ctx, *wsID, *dirPath, func() error {
			if *fromServer {
				return a.eng.DeleteOnServer(ctx, need(cmdArgs, "file"))
			}
			return a.eng.DeleteLocal(ctx, need(cmdArgs, "file"))
		})
	case "mkdir":
		cmdErr = a.inDir(ctx, *wsID, *dirPath, func() error {
			return a.eng.CreateDirectory(ctx, need(cmdArgs, "name"))
		})
	case "rmdir":
		cmdErr = a.inDir(ctx, *wsID, *dirPath, func() error {
			return a.eng.DeleteDirectory(ctx, need(cmdArgs, "name"))
		})
	case "links":
		cmdErr = a.cmdLinks(ctx, *wsID, *dirPath, need(cmdArgs, "file"))
	case "link-add":
		cmdErr = a.cmdLinkAdd(ctx, *wsID, *dirPath, cmdArgs)
	case "link-rm":
		cmdErr = a.cmdLinkRemove(ctx, *wsID, *dirPath, cmdArgs)
	case "search":
		cmdErr = a.cmdSearch(ctx, strings.Join(cmdArgs, " "))
	case "promoted":
		cmdErr = a.cmdPromoted(ctx, need(cmdArgs, "organization id"))
	case "watch":
		cmdErr = a.cmdWatch(ctx, *wsID, *dirPath)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Lens client

Usage: lens [flags] <command> [args]

Flags go before the command:
  lens -email a@b.c -password pw login
  lens -ws <id> -path drawings ls

Commands:
  login        Authenticate (-email, -password) and persist the session
  logout       Revoke the token and clear the session
  whoami       Show the current user
  workspaces   List workspaces (cached when offline)
  ls, status   Show the merged directory view (-ws, -path)
  upload       Commit a local file: upload <file> (-m message, -force)
  download     Fetch a file: download <file> (-version, -force)
  versions     List a file's history: versions <file>
  activate     Check out a historical version: activate <file> -version <id>
  rm           Delete a file: rm <file> (-server for the server copy)
  mkdir        Create a directory: mkdir <name>
  rmdir        Delete an empty directory: rmdir <name>
  links        List a file's share links: links <file>
  link-add     Create a share link: link-add <file> [title]
  link-rm      Delete a share link: link-rm <file> <link-id>
  search       Search public models: search <text>
  promoted     List an organization's promoted items: promoted <org-id>
  watch        Refresh on filesystem and timer signals (-ws, -path)`)
}

func need(args []string, what string) string {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Missing argument: %s\n", what)
		os.Exit(1)
	}
	return args[0]
}

func (a *app) cmdLogin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("login requires -email and -password")
	}
	if err := a.sess.Login(ctx, email, password); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", a.sess.User().Username)
	return nil
}

func (a *app) cmdWhoami() error {
	if a.sess.State() == session.LoggedOut {
		fmt.Println("Not logged in")
		return nil
	}
	u := a.sess.User()
	fmt.Printf("%s (%s)\nToken expires %s\n",
		u.Username, u.Email, a.sess.ExpiresAt().Format(time.RFC3339))
	return nil
}

func (a *app) cmdWorkspaces(ctx context.Context) error {
	if err := a.ws.Refresh(ctx); err != nil {
		logging.Warn("workspace refresh failed", logging.Err(err))
	}
	list := a.ws.List()
	if len(list) == 0 {
		fmt.Println("No workspaces")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tORGANIZATION\tTYPE")
	for _, ws := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ws.ID, ws.Name, ws.Organization.Name, ws.Organization.Type)
	}
	return w.Flush()
}

// enter opens the workspace and walks the -path segments.
func (a *app) enter(ctx context.Context, wsID, dirPath string) error {
	if wsID == "" {
		return fmt.Errorf("-ws is required")
	}
	if err := a.ws.Refresh(ctx); err != nil {
		logging.Warn("workspace refresh failed", logging.Err(err))
	}
	ws, ok := a.ws.Get(wsID)
	if !ok {
		return fmt.Errorf("unknown workspace: %s", wsID)
	}
	a.reg.Open(ws)

	for _, seg := range strings.FieldsFunc(dirPath, func(r rune) bool { return r == '/' }) {
		if err := a.reg.Refresh(ctx); err != nil {
			return err
		}
		item, ok := a.reg.Item(seg)
		if !ok || !item.IsFolder || item.ServerDir == nil {
			return fmt.Errorf("no such directory: %s", seg)
		}
		a.reg.Enter(*item.ServerDir)
	}
	return nil
}

// inDir runs fn with the registry positioned at ws/path and refreshed.
func (a *app) inDir(ctx context.Context, wsID, dirPath string, fn func() error) error {
	if err := a.enter(ctx, wsID, dirPath); err != nil {
		return err
	}
	if err := a.reg.Refresh(ctx); err != nil {
		logging.Warn("refresh incomplete", logging.Err(err))
	}
	return fn()
}

func (a *app) cmdList(ctx context.Context, wsID, dirPath string) error {
	return a.inDir(ctx, wsID, dirPath, func() error {
		items := a.reg.Items()
		if len(items) == 0 {
			fmt.Println("Empty directory")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tSTATUS\tLOCAL MTIME")
		for _, it := range items {
			kind, status, mtime := "file", it.Status.String(), ""
			if it.IsFolder {
				kind, status = "dir", ""
			}
			if it.LocalMtime != 0 {
				mtime = time.UnixMilli(it.LocalMtime).Format("2006-01-02 15:04:05.000")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Name, kind, status, mtime)
		}
		return w.Flush()
	})
}

func (a *app) cmdDownload(ctx context.Context, wsID, dirPath, name, versionID string, force bool) error {
	return a.inDir(ctx, wsID, dirPath, func() error {
		if versionID == "" {
			return a.eng.Download(ctx, name, force)
		}
		item, ok := a.reg.Item(name)
		if !ok || item.ServerFile == nil {
			return fmt.Errorf("not tracked on the server: %s", name)
		}
		vm := a.versionModel(item)
		if err := vm.Refresh(ctx); err != nil {
			return err
		}
		for _, entry := range vm.Entries() {
			if entry.Version.ID == versionID {
				return a.eng.DownloadVersion(ctx, item, entry.Version)
			}
		}
		return fmt.Errorf("no such version: %s", versionID)
	})
}

func (a *app) versionModel(item *models.FileItem) *version.ServerModel {
	localPath := filepath.Join(a.reg.LocalPath(), item.Name)
	return version.NewServerModel(a.sess, item.ServerFile.ID, localPath)
}

func (a *app) cmdVersions(ctx context.Context, wsID, dirPath, name string) error {
	return a.inDir(ctx, wsID, dirPath, func() error {
		item, ok := a.reg.Item(name)
		if !ok {
			return fmt.Errorf("no such entry: %s", name)
		}
		if item.ServerFile == nil {
			return a.printBackups(item)
		}

		vm := a.versionModel(item)
		if err := vm.Refresh(ctx); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tCREATED\tMESSAGE\tACTIVE\tON DISK")
		for _, entry := range vm.Entries() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				entry.Version.ID,
				time.UnixMilli(entry.Version.CreatedAt).Format("2006-01-02 15:04:05"),
				entry.Version.Message,
				mark(entry.Active), mark(entry.OnDisk))
		}
		return w.Flush()
	})
}

func (a *app) printBackups(item *models.FileItem) error {
	localPath := filepath.Join(a.reg.LocalPath(), item.Name)
	backups, err := version.NewLocalModel(localPath, nil).Scan()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No local backups")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKUP\tCREATED")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\n", b.Name, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func (a *app) cmdActivate(ctx context.Context, wsID, dirPath, name, versionID string) error {
	if versionID == "" {
		return fmt.Errorf("activate requires -version")
	}
	return a.inDir(ctx, wsID, dirPath, func() error {
		item, ok := a.reg.Item(name)
		if !ok || item.ServerFile == nil {
			return fmt.Errorf("not tracked on the server: %s", name)
		}
		return a.versionModel(item).SetActive(ctx, versionID)
	})
}

func (a *app) shareModel(ctx context.Context, name string) (*sharelink.Model, error) {
	item, ok := a.reg.Item(name)
	if !ok || item.ServerFile == nil {
		return nil, fmt.Errorf("not tracked on the server: %s", name)
	}
	m := sharelink.NewModel(a.sess, item.ServerFile.ID, a.cfg.FrontendURL)
	return m, m.Refresh(ctx)
}

func (a *app) cmdLinks(ctx context.Context, wsID, dirPath, name string) error {
	return a.inDir(ctx, wsID, dirPath, func() error {
		m, err := a.shareModel(ctx, name)
		if err != nil {
			return err
		}
		links := m.Links()
		if len(links) == 0 {
			fmt.Println("No share links")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tPROTECTION\tFOLLOWING\tACTIVE\tURL")
		for _, l := range links {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				l.ID, l.Title, l.Protection, l.VersionFollowing, mark(l.IsActive), m.URL(l))
		}
		return w.Flush()
	})
}

func (a *app) cmdLinkAdd(ctx context.Context, wsID, dirPath string, args []string) error {
	name := need(args, "file")
	title := "Shared model"
	if len(args) > 1 {
		title = strings.Join(args[1:], " ")
	}
	return a.inDir(ctx, wsID, dirPath, func() error {
		m, err := a.shareModel(ctx, name)
		if err != nil {
			return err
		}
		created, err := m.Add(ctx, protocol.CreateShareLinkRequest{
			Title:            title,
			Protection:       models.ProtectionUnlisted,
			VersionFollowing: models.FollowLocked,
			Capabilities:     models.Capabilities{CanViewModel: true},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n%s\n", created.ID, m.URL(created))
		return nil
	})
}

func (a *app) cmdLinkRemove(ctx context.Context, wsID, dirPath string, args []string) error {
	name := need(args, "file")
	if len(args) < 2 {
		return fmt.Errorf("link-rm requires <file> <link-id>")
	}
	return a.inDir(ctx, wsID, dirPath, func() error {
		m, err := a.shareModel(ctx, name)
		if err != nil {
			return err
		}
		return m.Delete(ctx, args[1])
	})
}

func (a *app) cmdSearch(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("search requires a query")
	}
	m := curation.NewSearchModel(a.sess, a.cfg.FrontendURL)
	if err := m.Search(ctx, text); err != nil {
		return err
	}
	results := m.Results()
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOLLECTION\tURL")
	for _, c := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Collection, m.URL(c))
	}
	return w.Flush()
}

func (a *app) cmdPromoted(ctx context.Context, orgID string) error {
	m := curation.NewPromotedModel(a.sess, orgID, a.cfg.FrontendURL)
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	items := m.Items()
	if len(items) == 0 {
		fmt.Println("Nothing promoted")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNOTES\tURL")
	for _, p := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Curation.Name, p.Notes, m.URL(p))
	}
	return w.Flush()
}

// cmdWatch keeps the view fresh from filesystem and timer signals until
// interrupted. All refreshes run on this goroutine; the sources only
// signal.
func (a *app) cmdWatch(ctx context.Context, wsID, dirPath string) error {
	if err := a.enter(ctx, wsID, dirPath); err != nil {
		return err
	}
	if err := a.reg.Refresh(ctx); err != nil {
		logging.Warn("initial refresh incomplete", logging.Err(err))
	}

	dw, err := watcher.NewDirWatcher(0)
	if err != nil {
		return err
	}
	defer dw.Close()
	if err := dw.Watch(a.reg.LocalPath()); err != nil {
		logging.Warn("watch failed", logging.Err(err))
	}

	tick := watcher.NewTicker(5 * time.Minute)
	dw.Start(ctx)
	tick.Start(ctx)

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.reg.LocalPath())
	for {
		select {
		case <-dw.Signals():
		case <-tick.Signals():
		case <-ctx.Done():
			return nil
		}
		if err := a.reg.Refresh(ctx); err != nil {
			logging.Warn("refresh failed", logging.Err(err))
		}
		fmt.Printf("refreshed at %s: %d items\n",
			time.Now().Format("15:04:05"), len(a.reg.Items()))
	}
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
