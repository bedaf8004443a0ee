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

package notice

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/kumc-bmi/heronadmin/config"
	"github.com/tideland/golib/logger"
)

// Copy is the archived copy of a sent notice.
type Copy struct {
	Record   string    `cbor:"record"`
	Decision string    `cbor:"decision"`
	SentAt   time.Time `cbor:"sent_at"`
	From     string    `cbor:"from"`
	To       []string  `cbor:"to"`
	Cc       []string  `cbor:"cc,omitempty"`
	Subject  string    `cbor:"subject"`
	Text     string    `cbor:"text"`
	HTML     string    `cbor:"html"`
}

// Archive keeps copies of sent notices.
type Archive interface {
	Put(ctx context.Context, c Copy) error
}

var (
	encMode cbor.EncMode
	zenc    *zstd.Encoder
	zdec    *zstd.Decoder
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("notice: CBOR encoder: " + err.Error())
	}
	if zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic("notice: zstd encoder: " + err.Error())
	}
	if zdec, err = zstd.NewReader(nil); err != nil {
		panic("notice: zstd decoder: " + err.Error())
	}
}

// Encode packs a copy as zstd compressed CBOR.
func Encode(c Copy) ([]byte, error) {
	raw, err := encMode.Marshal(c)
	if err != nil {
		return nil, err
	}
	return zenc.EncodeAll(raw, nil), nil
}

// Decode unpacks what Encode packed.
func Decode(b []byte) (Copy, error) {
	var c Copy
	raw, err := zdec.DecodeAll(b, nil)
	if err != nil {
		return c, err
	}
	err = cbor.Unmarshal(raw, &c)
	return c, err
}

// CopyKey is where a copy is stored in the archive bucket.
func CopyKey(c Copy) string {
	return fmt.Sprintf("notices/%s/%s.cbor.zst", c.SentAt.UTC().Format("2006/01/02"), c.Record)
}

// S3Archive keeps notice copies in an S3 bucket.
type S3Archive struct {
	bucket string
	s3     *s3.S3
}

// NewS3Archive sets up the session for archiving to the bucket in mc.
func NewS3Archive(mc config.MailConf) (*S3Archive, error) {
	cfg := &aws.Config{Region: aws.String(mc.Region)}
	if mc.S3Endpoint != "" {
		cfg.Endpoint = aws.String(mc.S3Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Archive{bucket: mc.ArchiveBucket, s3: s3.New(sess)}, nil
}

// Put uploads c.
func (a *S3Archive) Put(ctx context.Context, c Copy) error {
	body, err := Encode(c)
	if err != nil {
		return err
	}
	key := CopyKey(c)
	_, err = a.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/cbor"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return err
	}
	logger.Debugf("archived notice for record %s to s3://%s/%s", c.Record, a.bucket, key)
	return nil
}
