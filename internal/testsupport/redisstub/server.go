// Package redisstub implements the small slice of the Redis protocol the
// pipeline exercises, so queue and cache tests run against a real go-redis
// client over TCP without an external Redis instance. Supported commands:
// list push/pop (including blocking BLPOP), string get/set with expiry and
// NX, and key housekeeping.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configures the stub server.
type Options struct {
	Password string
}

// Server is an in-process Redis lookalike bound to a loopback port.
type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	closed   chan struct{}

	mu    sync.Mutex
	lists map[string][]string
	kv    map[string]kvEntry
}

type kvEntry struct {
	value  string
	expiry time.Time
}

// Start binds the stub to an ephemeral loopback port.
func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		closed:   make(chan struct{}),
		lists:    make(map[string][]string),
		kv:       make(map[string]kvEntry),
	}
	go server.serve()
	return server, nil
}

// Addr returns the listen address for client configuration.
func (s *Server) Addr() string {
	return s.addr
}

// Close stops the listener. Established connections end on their next read.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		var werr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "AUTH":
			password := args[len(args)-1]
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "SELECT":
			werr = writeSimpleString(writer, "OK")
		case "HELLO":
			// Declining HELLO makes go-redis fall back to RESP2 + AUTH.
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT":
			werr = writeSimpleString(writer, "OK")
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			werr = s.dispatch(writer, args)
		}
		if werr != nil {
			return
		}
		if writer.Flush() != nil {
			return
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "LPUSH", "RPUSH":
		if len(args) < 3 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		length := s.push(strings.ToUpper(args[0]) == "LPUSH", args[1], args[2:])
		return writeInteger(writer, length)
	case "LPOP":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		value, ok := s.pop(args[1])
		if !ok {
			return writeNilBulk(writer)
		}
		return writeBulkString(writer, value)
	case "BLPOP":
		if len(args) < 3 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		return s.blpop(writer, args[1:len(args)-1], args[len(args)-1])
	case "LLEN":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		s.mu.Lock()
		length := int64(len(s.lists[args[1]]))
		s.mu.Unlock()
		return writeInteger(writer, length)
	case "SET":
		return s.set(writer, args)
	case "GET":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		value, ok := s.get(args[1])
		if !ok {
			return writeNilBulk(writer)
		}
		return writeBulkString(writer, value)
	case "DEL":
		count := int64(0)
		s.mu.Lock()
		for _, key := range args[1:] {
			if _, ok := s.kv[key]; ok {
				delete(s.kv, key)
				count++
			}
			if _, ok := s.lists[key]; ok {
				delete(s.lists, key)
				count++
			}
		}
		s.mu.Unlock()
		return writeInteger(writer, count)
	case "EXISTS":
		count := int64(0)
		s.mu.Lock()
		for _, key := range args[1:] {
			if _, ok := s.kv[key]; ok {
				count++
			} else if _, ok := s.lists[key]; ok {
				count++
			}
		}
		s.mu.Unlock()
		return writeInteger(writer, count)
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(writer, "ERR value is not an integer")
		}
		s.mu.Lock()
		entry, ok := s.kv[args[1]]
		if ok {
			entry.expiry = time.Now().Add(time.Duration(seconds) * time.Second)
			s.kv[args[1]] = entry
		}
		s.mu.Unlock()
		if ok {
			return writeInteger(writer, 1)
		}
		return writeInteger(writer, 0)
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments")
		}
		return writeInteger(writer, s.ttl(args[1]))
	default:
		return writeError(writer, "ERR unsupported command '"+args[0]+"'")
	}
}

func (s *Server) push(left bool, key string, values []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	for _, value := range values {
		if left {
			list = append([]string{value}, list...)
		} else {
			list = append(list, value)
		}
	}
	s.lists[key] = list
	return int64(len(list))
}

func (s *Server) pop(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if len(list) == 0 {
		return "", false
	}
	value := list[0]
	s.lists[key] = list[1:]
	return value, true
}

func (s *Server) blpop(writer *bufio.Writer, keys []string, timeoutArg string) error {
	seconds, err := strconv.ParseFloat(timeoutArg, 64)
	if err != nil {
		return writeError(writer, "ERR timeout is not a float or out of range")
	}
	wait := time.Duration(seconds * float64(time.Second))
	if wait <= 0 {
		// "Block forever" is capped so a buggy test cannot hang the suite.
		wait = 30 * time.Second
	}
	deadline := time.Now().Add(wait)
	for {
		for _, key := range keys {
			if value, ok := s.pop(key); ok {
				if err := writeArrayHeader(writer, 2); err != nil {
					return err
				}
				if err := writeBulkString(writer, key); err != nil {
					return err
				}
				return writeBulkString(writer, value)
			}
		}
		if time.Now().After(deadline) {
			return writeNilArray(writer)
		}
		select {
		case <-s.closed:
			return writeNilArray(writer)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Server) set(writer *bufio.Writer, args []string) error {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments")
	}
	key, value := args[1], args[2]
	var expiry time.Time
	nx := false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX", "PX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error")
			}
			amount, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return writeError(writer, "ERR value is not an integer")
			}
			unit := time.Second
			if strings.ToUpper(args[i]) == "PX" {
				unit = time.Millisecond
			}
			expiry = time.Now().Add(time.Duration(amount) * unit)
			i++
		case "NX":
			nx = true
		default:
			return writeError(writer, "ERR syntax error")
		}
	}

	s.mu.Lock()
	if nx {
		if entry, ok := s.kv[key]; ok && (entry.expiry.IsZero() || time.Now().Before(entry.expiry)) {
			s.mu.Unlock()
			return writeNilBulk(writer)
		}
	}
	s.kv[key] = kvEntry{value: value, expiry: expiry}
	s.mu.Unlock()
	return writeSimpleString(writer, "OK")
}

func (s *Server) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return "", false
	}
	if !entry.expiry.IsZero() && time.Now().After(entry.expiry) {
		delete(s.kv, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected bulk prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length+2)
	for read := 0; read < len(buf); {
		n, err := r.Read(buf[read:])
		if err != nil {
			return "", err
		}
		read += n
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "+%s\r\n", value)
	return err
}

func writeError(w *bufio.Writer, message string) error {
	_, err := fmt.Fprintf(w, "-%s\r\n", message)
	return err
}

func writeInteger(w *bufio.Writer, value int64) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", value)
	return err
}

func writeBulkString(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func writeNilBulk(w *bufio.Writer) error {
	_, err := w.WriteString("$-1\r\n")
	return err
}

func writeNilArray(w *bufio.Writer) error {
	_, err := w.WriteString("*-1\r\n")
	return err
}

func writeArrayHeader(w *bufio.Writer, length int) error {
	_, err := fmt.Fprintf(w, "*%d\r\n", length)
	return err
}
