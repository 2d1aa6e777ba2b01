package gitrepo

import (
	"github.com/go-git/go-git/v5/plumbing/transport"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	sshauth "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// Credentials authenticate against the remote. Set Password for HTTP basic
// auth, or PrivateKey / PrivateKeyFile for SSH.
type Credentials struct {
	Username       string
	Password       string
	PrivateKey     []byte
	PrivateKeyFile string
	Passphrase     string
}

// IsSSH reports whether the credentials carry an SSH key.
func (c *Credentials) IsSSH() bool {
	return c != nil && (len(c.PrivateKey) > 0 || c.PrivateKeyFile != "")
}

func (c *Credentials) authMethod() (transport.AuthMethod, error) {
	if c == nil {
		return nil, nil
	}
	if c.IsSSH() {
		username := c.Username
		if username == "" {
			username = "git"
		}
		var (
			keys *sshauth.PublicKeys
			err  error
		)
		if len(c.PrivateKey) > 0 {
			keys, err = sshauth.NewPublicKeys(username, c.PrivateKey, c.Passphrase)
		} else {
			keys, err = sshauth.NewPublicKeysFromFile(username, c.PrivateKeyFile, c.Passphrase)
		}
		if err != nil {
			return nil, &Error{Kind: KindTransport, Code: CodeAuth, Message: "load ssh key", Cause: err}
		}
		// Host keys are not pinned; any server certificate is accepted.
		keys.HostKeyCallback = gossh.InsecureIgnoreHostKey()
		return keys, nil
	}
	if c.Username == "" && c.Password == "" {
		return nil, nil
	}
	return &httpauth.BasicAuth{Username: c.Username, Password: c.Password}, nil
}
