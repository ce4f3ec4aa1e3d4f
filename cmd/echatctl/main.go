package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/operchat/echat/internal/config"
	"github.com/operchat/echat/internal/profile"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		if cfg, err := config.Load(profile.ConfigPath()); err == nil {
			addr = cfg.Daemon.Listen
		} else {
			addr = "127.0.0.1:7343"
		}
	}
	c := &ctl{
		base:    "http://" + addr,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		jsonOut: *jsonFlag,
	}

	switch args[0] {
	case "init":
		c.requireArgs(args, 3, "init <api_base_url> <token> [ws_url]")
		wsURL := ""
		if len(args) > 3 {
			wsURL = args[3]
		}
		cmdInit(args[1], args[2], wsURL)
	case "status":
		c.get("/v1/status")
	case "list":
		c.requireArgs(args, 2, "list <leads|clients|suppliers>")
		c.get("/v1/conversations/" + args[1])
	case "refresh":
		c.requireArgs(args, 2, "refresh <leads|clients|suppliers>")
		c.post("/v1/conversations/"+args[1]+"/refresh", nil)
	case "more":
		c.requireArgs(args, 2, "more <leads|clients|suppliers>")
		c.post("/v1/conversations/"+args[1]+"/more", nil)
	case "search":
		c.requireArgs(args, 3, "search <entity> <query>")
		c.post("/v1/conversations/"+args[1]+"/search", map[string]any{"query": strings.Join(args[2:], " ")})
	case "assigned":
		c.requireArgs(args, 2, "assigned <user_id>")
		userID, err := strconv.Atoi(args[1])
		if err != nil {
			fatal("user id must be a number")
		}
		c.post("/v1/filters/assigned", map[string]any{"user_id": userID})
	case "open":
		c.requireArgs(args, 4, "open <entity> <id> <contact_id>")
		id, err1 := strconv.Atoi(args[2])
		contactID, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			fatal("conversation and contact ids must be numbers")
		}
		c.post("/v1/open", map[string]any{"entity": args[1], "id": id, "contact_id": contactID})
	case "active":
		c.get("/v1/active")
	case "history":
		c.post("/v1/active/more", nil)
	case "send":
		c.requireArgs(args, 3, "send <messenger_id> <text...>")
		messengerID, err := strconv.Atoi(args[1])
		if err != nil {
			fatal("messenger id must be a number")
		}
		c.post("/v1/messages", map[string]any{
			"text":         strings.Join(args[2:], " "),
			"messenger_id": messengerID,
		})
	case "resend":
		c.requireArgs(args, 2, "resend <client_message_uid>")
		c.post("/v1/messages/resend", map[string]any{"uid": args[1]})
	case "sendfile":
		c.requireArgs(args, 3, "sendfile <messenger_id> <path> [caption...]")
		messengerID, err := strconv.Atoi(args[1])
		if err != nil {
			fatal("messenger id must be a number")
		}
		c.sendFile(messengerID, args[2], strings.Join(args[3:], " "))
	case "draft":
		c.put("/v1/active/draft", map[string]any{"text": strings.Join(args[1:], " ")})
	case "watch":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		c.watch(prefix)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: echatctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init <base_url> <token> [ws]    Write the initial config file")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon and list status")
	fmt.Fprintln(os.Stderr, "  list <entity>                   Show a conversation list")
	fmt.Fprintln(os.Stderr, "  refresh <entity>                Refetch a list from page 1")
	fmt.Fprintln(os.Stderr, "  more <entity>                   Load the next list page")
	fmt.Fprintln(os.Stderr, "  search <entity> <query>         Filter a list by search query")
	fmt.Fprintln(os.Stderr, "  assigned <user_id>              Filter all lists by responsible manager")
	fmt.Fprintln(os.Stderr, "  open <entity> <id> <contact>    Open a conversation")
	fmt.Fprintln(os.Stderr, "  active                          Show the open conversation")
	fmt.Fprintln(os.Stderr, "  history                         Load older messages of the open conversation")
	fmt.Fprintln(os.Stderr, "  send <messenger_id> <text>      Send a message")
	fmt.Fprintln(os.Stderr, "  resend <uid>                    Retry a failed message")
	fmt.Fprintln(os.Stderr, "  sendfile <messenger_id> <path> [caption]")
	fmt.Fprintln(os.Stderr, "  draft <text>                    Save the open conversation's draft")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                  Stream daemon events")
}

func cmdInit(baseURL, token, wsURL string) {
	path := profile.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Sprintf("config already exists at %s", path))
	}
	cfg := &config.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.Token = token
	cfg.Realtime.URL = wsURL
	if err := config.Save(path, cfg); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("wrote %s\n", path)
}

type ctl struct {
	base    string
	httpc   *http.Client
	jsonOut bool
}

func (c *ctl) requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: echatctl %s\n", usage)
		os.Exit(1)
	}
}

func (c *ctl) get(path string) {
	resp, err := c.httpc.Get(c.base + path)
	if err != nil {
		fatal(err.Error())
	}
	c.output(resp)
}

func (c *ctl) post(path string, body map[string]any) {
	c.request(http.MethodPost, path, body)
}

func (c *ctl) put(path string, body map[string]any) {
	c.request(http.MethodPut, path, body)
}

func (c *ctl) request(method, path string, body map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fatal(err.Error())
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		fatal(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	c.output(resp)
}

func (c *ctl) sendFile(messengerID int, path, caption string) {
	f, err := os.Open(path)
	if err != nil {
		fatal(err.Error())
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		fatal(err.Error())
	}
	if _, err := io.Copy(part, f); err != nil {
		fatal(err.Error())
	}
	_ = w.WriteField("messenger_id", strconv.Itoa(messengerID))
	_ = w.WriteField("caption", caption)
	if err := w.Close(); err != nil {
		fatal(err.Error())
	}

	resp, err := c.httpc.Post(c.base+"/v1/files", w.FormDataContentType(), &buf)
	if err != nil {
		fatal(err.Error())
	}
	c.output(resp)
}

// watch streams server-sent events to stdout until interrupted.
func (c *ctl) watch(prefix string) {
	url := c.base + "/v1/events"
	if prefix != "" {
		url += "?prefix=" + prefix
	}
	resp, err := (&http.Client{}).Get(url)
	if err != nil {
		fatal(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Println(data)
		}
	}
}

func (c *ctl) output(resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err.Error())
	}

	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "error: %d %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	if len(data) == 0 {
		fmt.Println("ok")
		return
	}
	if c.jsonOut {
		fmt.Println(string(data))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "error: %v\n", msg)
	os.Exit(1)
}
