/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package appconfig

import (
	"fmt"
	"path/filepath"
	"strconv"

	libval "github.com/go-playground/validator/v10"

	"github.com/nabbar/chatd/chaterr"
)

// ServerConfig is the merged view of config/server.conf and .env required to
// start the server: database connection parameters and TLS material paths.
type ServerConfig struct {
	DBHost     string `validate:"required"`
	DBPort     int    `validate:"required,min=1,max=65535"`
	DBName     string `validate:"required"`
	DBUser     string `validate:"required"`
	DBPassword string `validate:"required"`
	TLSCert    string `validate:"required"`
	TLSKey     string `validate:"required"`
	ListenPort int    `validate:"required,min=1,max=65535"`
}

// Validate runs struct-tag validation and wraps any failure as a
// configuration-domain chaterr.Error.
func (c *ServerConfig) Validate() error {
	if er := libval.New().Struct(c); er != nil {
		if ve, ok := er.(libval.ValidationErrors); ok && len(ve) > 0 {
			return chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigMissingKey, nil,
				"field %q failed constraint %q", ve[0].StructNamespace(), ve[0].ActualTag())
		}
		return chaterr.New(chaterr.DomainConfig, chaterr.CodeConfigMissingKey, "validation failed", er)
	}
	return nil
}

// LoadServerConfig reads config/server.conf and .env under root and merges
// them into a validated ServerConfig. listenPort defaults to 8080 when
// server.conf carries no "listen.port" key.
func LoadServerConfig(root string) (*ServerConfig, error) {
	conf, err := ParseFile(filepath.Join(root, serverConfRelPath))
	if err != nil {
		return nil, err
	}
	if err := RequireKeys(conf, "db.host", "db.port", "db.name", "tls.cert", "tls.key"); err != nil {
		return nil, err
	}

	env, err := ParseFile(filepath.Join(root, envRelPath))
	if err != nil {
		return nil, err
	}
	if err := RequireKeys(env, "db.user", "db.password"); err != nil {
		return nil, err
	}

	port, err := strconv.Atoi(conf["db.port"])
	if err != nil {
		return nil, chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigMalformedLine, err,
			"db.port %q is not numeric", conf["db.port"])
	}

	listenPort := 8080
	if v, ok := conf["listen.port"]; ok {
		if listenPort, err = strconv.Atoi(v); err != nil {
			return nil, chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigMalformedLine, err,
				"listen.port %q is not numeric", v)
		}
	}

	cfg := &ServerConfig{
		DBHost:     conf["db.host"],
		DBPort:     port,
		DBName:     conf["db.name"],
		DBUser:     env["db.user"],
		DBPassword: env["db.password"],
		TLSCert:    resolvePath(root, conf["tls.cert"]),
		TLSKey:     resolvePath(root, conf["tls.key"]),
		ListenPort: listenPort,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// ClientDefaults returns the default server address and CA bundle path used
// by the client when invoked without arguments.
func ClientDefaults(root string) (ip string, port int, caPath string) {
	return "127.0.0.1", 8080, filepath.Join(root, "certs", "ca.crt.pem")
}

// DSN renders the merged config into a MySQL-style data source name
// consumed by the gorm-backed store.
func (c *ServerConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
