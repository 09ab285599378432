// internal/pkg/nacos/client.go
package nacos

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/rs/zerolog/log"
)

// Client 封装了 Nacos 命名客户端
type Client struct {
	namingClient naming_client.INamingClient
	groupName    string
}

// NewNacosClient 创建 Nacos 客户端，addrs 格式为 "ip1:port1,ip2:port2"
func NewNacosClient(addrs, namespaceID, groupName string) (*Client, error) {
	if namespaceID == "" {
		log.Warn().Msg("⚠️ NACOS_NAMESPACE is not set. Using default public namespace.")
	}
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}

	serverConfigs, err := parseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)

	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}

	log.Info().Str("addrs", addrs).Msg("✅ Successfully connected to Nacos.")
	return &Client{namingClient: namingClient, groupName: groupName}, nil
}

func parseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", portStr)
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(host, port))
	}
	return serverConfigs, nil
}

// RegisterServiceInstance 注册一个临时实例，心跳断开后自动摘除
func (c *Client) RegisterServiceInstance(serviceName, ip string, port int) error {
	success, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return fmt.Errorf("failed to register service with nacos: %w", err)
	}
	if !success {
		return fmt.Errorf("nacos registration was not successful for service: %s", serviceName)
	}
	log.Info().Msgf("✅ Service '%s' registered to Nacos (%s:%d)", serviceName, ip, port)
	return nil
}

func (c *Client) DeregisterServiceInstance(serviceName, ip string, port int) error {
	_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   c.groupName,
	})
	if err != nil {
		return fmt.Errorf("failed to deregister service with nacos: %w", err)
	}
	log.Info().Msgf("ℹ️ Service '%s' deregistered from Nacos (%s:%d)", serviceName, ip, port)
	return nil
}

// DiscoverServiceURL 选一个健康实例，返回 http://ip:port
func (c *Client) DiscoverServiceURL(serviceName string) (string, error) {
	instance, err := c.namingClient.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.groupName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to discover healthy instance for service '%s': %w", serviceName, err)
	}
	if instance == nil {
		return "", fmt.Errorf("no healthy instance available for service '%s'", serviceName)
	}
	return fmt.Sprintf("http://%s:%d", instance.Ip, instance.Port), nil
}
