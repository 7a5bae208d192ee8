package stream

import (
	"fmt"
	"net"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD type the stream server advertises.
const ServiceType = "_loopback._tcp"

type advertiser struct {
	server *mdns.Server
}

func advertise(name string, port int) (*advertiser, error) {
	ips, err := localIPv4()
	if err != nil {
		return nil, fmt.Errorf("local addresses: %w", err)
	}

	service, err := mdns.NewMDNSService(name, ServiceType, "", "", port, ips,
		[]string{"path=/stream", "encoding=" + Encoding})
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}

	log.Info("advertising stream", "service", ServiceType, "name", name, "port", port)
	return &advertiser{server: server}, nil
}

func (a *advertiser) shutdown() {
	if err := a.server.Shutdown(); err != nil {
		log.Debug("mdns shutdown", "error", err)
	}
}

// localIPv4 lists the non-loopback IPv4 addresses of interfaces that are up.
func localIPv4() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable IPv4 address")
	}
	return ips, nil
}
