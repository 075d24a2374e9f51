package httpTracker

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/anacrolix/dht/v2/krpc"
)

type Peer struct {
	IP   net.IP
	Port int
	ID   []byte
}

func (p Peer) ToNetipAddrPort() (addrPort netip.AddrPort, ok bool) {
	addr, ok := netip.AddrFromSlice(p.IP)
	addrPort = netip.AddrPortFrom(addr.Unmap(), uint16(p.Port))
	return
}

func (p Peer) String() string {
	loc := net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
	if len(p.ID) != 0 {
		return fmt.Sprintf("%x at %s", p.ID, loc)
	} else {
		return loc
	}
}

// Set from the non-compact form in BEP 3.
func (p *Peer) FromDictInterface(d map[string]any) error {
	ip, _ := d["ip"].(string)
	p.IP = net.ParseIP(ip)
	if p.IP == nil {
		return fmt.Errorf("bad peer ip %q", ip)
	}
	if id, ok := d["peer id"].(string); ok {
		p.ID = []byte(id)
	}
	port, ok := d["port"].(int64)
	if !ok || port <= 0 || port > 0xffff {
		return fmt.Errorf("bad peer port %v", d["port"])
	}
	p.Port = int(port)
	return nil
}

func (p Peer) FromNodeAddr(na krpc.NodeAddr) Peer {
	p.IP = na.IP
	p.Port = na.Port
	return p
}
