/*
 * Copyright (c) 2013-2019, Jeremy Bingham (<jeremy@goiardi.gl>)
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"io"
	"os"

	"github.com/kumc-bmi/heronadmin/cache"
	"github.com/kumc-bmi/heronadmin/clock"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/kumc-bmi/heronadmin/datastore"
	"github.com/kumc-bmi/heronadmin/directory"
	"github.com/kumc-bmi/heronadmin/disclaimer"
	"github.com/kumc-bmi/heronadmin/gerror"
	"github.com/kumc-bmi/heronadmin/i2b2pm"
	"github.com/kumc-bmi/heronadmin/notary"
	"github.com/kumc-bmi/heronadmin/notice"
	"github.com/kumc-bmi/heronadmin/oversight"
	"github.com/kumc-bmi/heronadmin/policy"
	"github.com/kumc-bmi/heronadmin/redcap"
	"github.com/kumc-bmi/heronadmin/saa"
	"github.com/kumc-bmi/heronadmin/secret"
	"github.com/kumc-bmi/heronadmin/serfin"
	"github.com/kumc-bmi/heronadmin/training"
	"github.com/raintank/met"
	"github.com/raintank/met/helper"
	"github.com/tideland/golib/logger"
)

// app is everything the subcommands work with.
type app struct {
	conf      *config.Conf
	out       io.Writer
	clk       clock.Clock
	eav       *datastore.DB
	pmDB      *datastore.DB
	metrics   met.Backend
	notary    *notary.Notary
	dir       *directory.Service
	oversight *oversight.Records
	saa       *saa.Agreement
	guard     *disclaimer.Guard
	engine    *policy.Engine
	pm        *i2b2pm.PM
	closers   []func()
}

func main() {
	// stderr until the config says where logs go
	logger.SetLogger(logger.NewGoLogger())
	conf, args, err := config.ParseConfigOptions()
	if err != nil {
		abort(err)
	}
	if err = setupLogging(conf); err != nil {
		abort(err)
	}
	if len(args) == 0 {
		abort(gerror.New(gerror.Configuration, "no command given; try --help"))
	}

	// Set up secrets, if we're using them.
	if conf.Vault.UseVault {
		src, serr := secret.Configure(conf.Vault)
		if serr != nil {
			logger.Fatalf(serr.Error())
			os.Exit(1)
		}
		if serr = secret.Apply(conf, src); serr != nil {
			logger.Fatalf(serr.Error())
			os.Exit(1)
		}
	}

	// schema only needs to know the dialect.
	if args[0] == "schema" {
		if err = printSchema(os.Stdout, conf, args[1:]); err != nil {
			abort(err)
		}
		return
	}

	a, err := newApp(conf, os.Stdout)
	if err != nil {
		abort(err)
	}
	defer a.close()
	if err = a.run(args[0], args[1:]); err != nil {
		logger.Errorf("%s: %s", args[0], err.Error())
		a.close()
		os.Exit(1)
	}
}

var exit = os.Exit

// abort logs a startup failure at critical level and exits.
func abort(err error) {
	logger.Criticalf(err.Error())
	exit(1)
}

func setupLogging(conf *config.Conf) error {
	switch {
	case conf.SysLog:
		sl, err := logger.NewSysLogger("heronadmin")
		if err != nil {
			return err
		}
		logger.SetLogger(sl)
	case conf.LogFile != "":
		lfp, err := os.OpenFile(conf.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		logger.SetLogger(logger.NewStandardLogger(lfp))
	default:
		logger.SetLogger(logger.NewGoLogger())
	}
	logger.SetLevelString(conf.LogLevel)
	return nil
}

// newApp connects to everything conf describes.
func newApp(conf *config.Conf, out io.Writer) (*app, error) {
	a := &app{conf: conf, out: out, clk: clock.System{}}
	var err error

	a.metrics, err = helper.New(conf.Metrics.UseStatsd, conf.Metrics.StatsdAddr, conf.Metrics.StatsdType, "heronadmin", conf.Metrics.StatsdInstance)
	if err != nil {
		return nil, err
	}

	/* Here goes nothing, db... */
	a.eav, err = datastore.ConnectDB(conf.EAV)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.eav.Close() })

	if a.notary, err = notary.New(); err != nil {
		a.close()
		return nil, err
	}

	var searcher directory.Searcher
	if conf.Directory.MockFile != "" {
		m, merr := directory.NewMock(conf.Directory.MockFile)
		if merr != nil {
			a.close()
			return nil, merr
		}
		searcher = m
	} else {
		l := directory.NewLDAP(conf.Directory)
		a.closers = append(a.closers, l.Close)
		searcher = l
	}
	a.dir = directory.New(searcher, a.notary, cache.New("directory", a.clk, a.metrics), conf.Directory.CacheDur)

	var reg training.Registry
	if conf.Training.MockFile != "" {
		m, merr := directory.NewMock(conf.Training.MockFile)
		if merr != nil {
			a.close()
			return nil, merr
		}
		reg = training.MockFromRecords(m.Records(), directory.AttrTrainedThru)
	} else {
		reg = training.NewClient(conf.Training.URL, conf.Training.Param, conf.Training.TimeoutDur, a.metrics)
	}
	reg = training.NewCached(reg, cache.New("training", a.clk, a.metrics), conf.Training.CacheDur)

	sigTime, err := conf.SAA.FallbackTime()
	if err != nil {
		a.close()
		return nil, err
	}
	store := redcap.NewStore(a.eav)
	a.oversight = oversight.New(store, a.dir, a.clk, conf.Oversight.ProjectID, conf.Oversight.SurveyID)
	a.saa = saa.New(store, conf.SAA.SurveyID, saa.Options{
		Retries: conf.SAA.Retries,
		Fallback: saa.Fallback{
			Enabled: conf.SAA.FallbackEnabled,
			Record:  conf.SAA.FallbackRecord,
			SigTime: sigTime,
		},
		Metrics: a.metrics,
	})
	a.guard = disclaimer.New(store, conf.Disclaimers.ProjectID, conf.Acknowledgements.ProjectID, a.notary.Inspector(), a.clk)

	a.engine = policy.New(policy.Deps{
		Directory:   a.dir,
		Training:    reg,
		Sponsors:    a.oversight,
		Agreements:  a.saa,
		Disclaimers: a.guard,
		Executives:  policy.NewExecGroup(a.eav, a.eav.Dialect),
		Inspector:   a.notary.Inspector(),
		Clock:       a.clk,
		Metrics:     a.metrics,
	}, conf.Policy)

	if conf.PM.Configured() {
		if a.pmDB, err = datastore.ConnectDB(conf.PM.DBConf); err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { a.pmDB.Close() })
		a.pm = i2b2pm.New(a.pmDB, a.notary.Inspector(), a.clk, conf.PM.Project)
	}
	return a, nil
}

// notifier sets up decision notices: mail through the configured relay,
// with an S3 archive and serf announcements if those are configured.
func (a *app) notifier() (*notice.Notifier, error) {
	if a.conf.Mail.Host == "" {
		return nil, gerror.Errorf(gerror.Configuration, "missing required option mail.host")
	}
	n := notice.New(a.oversight, notice.NewLog(a.eav), notice.NewSMTPMailer(a.conf.Mail), a.clk, a.conf.Mail, a.metrics)
	if a.conf.Mail.ArchiveBucket != "" {
		arch, err := notice.NewS3Archive(a.conf.Mail)
		if err != nil {
			return nil, err
		}
		n.Archive = arch
	}
	if a.conf.Serf.UseSerf {
		host := a.conf.Hostname
		if host == "" {
			host, _ = os.Hostname()
		}
		s, err := serfin.Start(a.conf.Serf, host)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { s.Close() })
		n.Announcer = s
	}
	return n, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
