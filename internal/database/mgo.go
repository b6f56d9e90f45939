package database

import (
	"crypto/tls"
	"net"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
)

// MgoSession is a Session backed by the mgo driver.
type MgoSession struct {
	*mgo.Session
}

// Copy is part of the Session interface.
func (s *MgoSession) Copy() Session {
	return &MgoSession{Session: s.Session.Copy()}
}

// MgoDialer dials MongoDB with mgo.
type MgoDialer struct{}

// Dial is part of the Dialer interface.
func (MgoDialer) Dial(info DialInfo) (Session, error) {
	dialInfo := &mgo.DialInfo{
		Addrs:    info.Addrs,
		Database: info.Database,
		Username: info.Username,
		Password: info.Password,
		Timeout:  info.Timeout,
	}
	if info.TLS != nil {
		tlsConfig := info.TLS
		dialer := &net.Dialer{Timeout: info.Timeout}
		dialInfo.DialServer = func(addr *mgo.ServerAddr) (net.Conn, error) {
			return tls.DialWithDialer(dialer, "tcp", addr.String(), tlsConfig)
		}
	}
	session, err := mgo.DialWithInfo(dialInfo)
	if err != nil {
		return nil, errors.Annotatef(err, "cannot connect to %s", strings.Join(info.Addrs, ","))
	}
	session.SetMode(mgo.Monotonic, true)
	return &MgoSession{Session: session}, nil
}

// Mongo returns a copy of the live mgo session. Callers must Close it.
func (c *Conn) Mongo() (*mgo.Session, error) {
	session, err := c.Session()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ms, ok := session.(*MgoSession)
	if !ok {
		session.Close()
		return nil, errors.NotSupportedf("session type %T", session)
	}
	return ms.Session, nil
}
