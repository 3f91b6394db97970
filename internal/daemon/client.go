package daemon

import (
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
)

type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

var reqCounter uint64

func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Call(method string, params any, out any) error {
	id := strconv.FormatUint(atomic.AddUint64(&reqCounter, 1), 10)
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = b
	}
	if err := c.enc.Encode(Request{ID: id, Method: method, Params: raw}); err != nil {
		return err
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return errors.New(resp.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

func (c *Client) Status() (StatusResult, error) {
	var result StatusResult
	return result, c.Call("Status", nil, &result)
}

// Search starts a new session for query and collects the first count
// records.
func (c *Client) Search(query string, count int) (CollectResult, error) {
	var result CollectResult
	return result, c.Call("Search", SearchParams{Query: query, Count: count}, &result)
}

func (c *Client) More(count int) (CollectResult, error) {
	var result CollectResult
	return result, c.Call("More", MoreParams{Count: count}, &result)
}

func (c *Client) Stop() error {
	return c.Call("Stop", nil, nil)
}
