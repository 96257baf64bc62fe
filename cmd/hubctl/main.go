// Command hubctl is a smoke-test client for a running hub gateway: put,
// delete, list and revoke-all, each a thin HTTP call authenticated with a
// pre-minted bearer token. Modeled on the teacher's CLI tools (cli/) in
// spirit, built with the urfave/cli framework the wider example corpus
// reaches for.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "hubctl"
	app.Usage = "smoke-test client for a hub gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "hub", Usage: "base URL of the hub, e.g. http://localhost:8088"},
		cli.StringFlag{Name: "token", Usage: "bearer token, without the 'bearer v1:' envelope"},
	}
	app.Commands = []cli.Command{
		putCommand,
		deleteCommand,
		listCommand,
		revokeCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hubctl:", err)
		os.Exit(1)
	}
}

var putCommand = cli.Command{
	Name:      "put",
	Usage:     "upload a file",
	ArgsUsage: "<address> <path> <file>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return cli.NewExitError("usage: hubctl put <address> <path> <file>", 1)
		}
		address, path, file := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()

		url := fmt.Sprintf("%s/store/%s/%s", baseURL(c), address, path)
		req, err := http.NewRequest(http.MethodPost, url, f)
		if err != nil {
			return err
		}
		setAuth(req, c)
		return doRequest(req)
	},
}

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "delete a file",
	ArgsUsage: "<address> <path>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("usage: hubctl delete <address> <path>", 1)
		}
		address, path := c.Args().Get(0), c.Args().Get(1)
		url := fmt.Sprintf("%s/delete/%s/%s", baseURL(c), address, path)
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		if err != nil {
			return err
		}
		setAuth(req, c)
		return doRequest(req)
	},
}

var listCommand = cli.Command{
	Name:      "list",
	Usage:     "list files",
	ArgsUsage: "<address>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "page"},
		cli.BoolFlag{Name: "stat"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: hubctl list <address>", 1)
		}
		body, _ := json.Marshal(map[string]interface{}{
			"page": c.String("page"),
			"stat": c.Bool("stat"),
		})
		url := fmt.Sprintf("%s/list-files/%s", baseURL(c), c.Args().Get(0))
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		setAuth(req, c)
		return doRequest(req)
	},
}

var revokeCommand = cli.Command{
	Name:      "revoke-all",
	Usage:     "invalidate all tokens issued before a timestamp",
	ArgsUsage: "<address> <oldestValidTimestamp>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("usage: hubctl revoke-all <address> <oldestValidTimestamp>", 1)
		}
		ts, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
		if err != nil {
			return cli.NewExitError("oldestValidTimestamp must be an integer", 1)
		}
		body, _ := json.Marshal(map[string]interface{}{"oldestValidTimestamp": ts})
		url := fmt.Sprintf("%s/revoke-all/%s", baseURL(c), c.Args().Get(0))
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		setAuth(req, c)
		return doRequest(req)
	},
}

func baseURL(c *cli.Context) string {
	return strings.TrimSuffix(c.GlobalString("hub"), "/")
}

func setAuth(req *http.Request, c *cli.Context) {
	if token := c.GlobalString("token"); token != "" {
		req.Header.Set("Authorization", "bearer v1:"+token)
	}
}

func doRequest(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%d %s\n", resp.StatusCode, string(body))
	if resp.StatusCode >= 400 {
		return cli.NewExitError("request failed", 1)
	}
	return nil
}
