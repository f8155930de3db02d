package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// 外部IdPへの通信で許可するスキームとポート
var (
	outboundSchemes = []string{"https", "http"}
	outboundPorts   = []int{443, 80}
)

// privateNetworks は外部IdPの接続先として許可しないネットワーク範囲。
var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// NewOutboundClient は外部IdP（JWKS取得）向けのHTTPクライアントを生成する。
// 接続時に解決後のIPアドレスを検証し、プライベート・ループバック・リンクローカル宛ての通信を拒否する。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(outboundSchemes...).
		SetAllowedPorts(outboundPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateOutboundURL は設定された外部IdPのURLを起動時に検証する。
// DNS解決は行わない。解決後のアドレスはNewOutboundClientが検証する。
func ValidateOutboundURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range privateNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}
	return nil
}
