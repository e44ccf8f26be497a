package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	werrors "custody/internal/errors"
	"custody/pkg/models"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/custody.db"

	// 存储桶名称
	WalletsBucket      = "wallets"
	TransactionsBucket = "transactions"
	BundlesBucket      = "bundles"
	OwnershipBucket    = "ownership_transfers"

	// 二级索引：按钱包/交易包分组的子存储桶，键为自增序号
	WalletTxIndexBucket = "tx_by_wallet"
	BundleTxIndexBucket = "tx_by_bundle"
)

var rootBuckets = []string{
	WalletsBucket,
	TransactionsBucket,
	BundlesBucket,
	OwnershipBucket,
	WalletTxIndexBucket,
	BundleTxIndexBucket,
}

// BoltStore 基于 bbolt 的 Repository 实现
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewBoltStore 打开（或创建）数据库
func NewBoltStore(dbPath string, logger *logrus.Logger) (*BoltStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, werrors.ErrStorage(err, "创建数据目录失败")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, werrors.ErrStorage(err, "打开钱包数据库失败")
	}

	s := &BoltStore{db: db, logger: logger, dbPath: dbPath}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, werrors.ErrStorage(err, "初始化数据库失败")
	}

	logger.Infof("钱包存储已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 初始化数据库结构
func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range rootBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// SaveWallet 保存钱包
func (s *BoltStore) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update("保存钱包失败", func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(WalletsBucket)), wallet.WalletID, wallet)
	})
}

// GetWallet 读取钱包
func (s *BoltStore) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var wallet models.Wallet
	err := s.view("读取钱包失败", func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(WalletsBucket)), walletID, &wallet, werrors.ErrWalletNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListWallets 按创建时间升序返回全部钱包
func (s *BoltStore) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wallets := make([]*models.Wallet, 0)
	err := s.view("列出钱包失败", func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(WalletsBucket)).ForEach(func(k, v []byte) error {
			var w models.Wallet
			if err := json.Unmarshal(v, &w); err != nil {
				return corruptRecord(WalletsBucket, string(k), err)
			}
			wallets = append(wallets, &w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(wallets, func(i, j int) bool {
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets, nil
}

// UpdateWallet 读-改-写钱包
func (s *BoltStore) UpdateWallet(ctx context.Context, walletID string, mutate func(*models.Wallet) error) (*models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var wallet models.Wallet
	err := s.update("更新钱包失败", func(tx *bolt.Tx) error {
		return mutateWallet(tx, walletID, &wallet, mutate)
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// SaveTransaction 保存交易，首次写入时建立钱包/交易包索引
func (s *BoltStore) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update("保存交易失败", func(tx *bolt.Tx) error {
		txs := tx.Bucket([]byte(TransactionsBucket))
		isNew := txs.Get([]byte(t.TxID)) == nil
		if err := putJSON(txs, t.TxID, t); err != nil {
			return err
		}
		if !isNew {
			return nil
		}
		if err := appendIndex(tx, WalletTxIndexBucket, t.WalletID, []byte(t.TxID)); err != nil {
			return err
		}
		if t.BundleID != nil {
			return appendIndex(tx, BundleTxIndexBucket, *t.BundleID, []byte(t.TxID))
		}
		return nil
	})
}

// GetTransaction 读取交易
func (s *BoltStore) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var t models.Transaction
	err := s.view("读取交易失败", func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(TransactionsBucket)), txID, &t, werrors.ErrTransactionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTransaction 读-改-写交易
func (s *BoltStore) UpdateTransaction(ctx context.Context, txID string, mutate func(*models.Transaction) error) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var t models.Transaction
	err := s.update("更新交易失败", func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(TransactionsBucket))
		if err := getJSON(bucket, txID, &t, werrors.ErrTransactionNotFound); err != nil {
			return err
		}
		if err := mutate(&t); err != nil {
			return err
		}
		return putJSON(bucket, txID, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions 按写入顺序返回钱包的交易
func (s *BoltStore) ListTransactions(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	return s.listIndexed(ctx, WalletTxIndexBucket, walletID)
}

// ListBundleTransactions 按写入顺序返回交易包成员
func (s *BoltStore) ListBundleTransactions(ctx context.Context, bundleID string) ([]*models.Transaction, error) {
	return s.listIndexed(ctx, BundleTxIndexBucket, bundleID)
}

func (s *BoltStore) listIndexed(ctx context.Context, indexBucket, key string) ([]*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]*models.Transaction, 0)
	err := s.view("列出交易失败", func(tx *bolt.Tx) error {
		group := tx.Bucket([]byte(indexBucket)).Bucket([]byte(key))
		if group == nil {
			return nil
		}
		txs := tx.Bucket([]byte(TransactionsBucket))
		return group.ForEach(func(_, txID []byte) error {
			var t models.Transaction
			if err := getJSON(txs, string(txID), &t, werrors.ErrTransactionNotFound); err != nil {
				return err
			}
			result = append(result, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SaveBundle 保存交易包元数据
func (s *BoltStore) SaveBundle(ctx context.Context, bundle *models.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update("保存交易包失败", func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(BundlesBucket)), bundle.BundleID, bundle)
	})
}

// GetBundle 读取交易包
func (s *BoltStore) GetBundle(ctx context.Context, bundleID string) (*models.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b models.Bundle
	err := s.view("读取交易包失败", func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(BundlesBucket)), bundleID, &b, werrors.ErrBundleNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// TransferOwnership 追加所有权转移记录并修改钱包
func (s *BoltStore) TransferOwnership(ctx context.Context, record *models.OwnershipTransfer, mutate func(*models.Wallet) error) (*models.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var wallet models.Wallet
	err := s.update("所有权转移失败", func(tx *bolt.Tx) error {
		if err := mutateWallet(tx, record.WalletID, &wallet, mutate); err != nil {
			return err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return appendIndex(tx, OwnershipBucket, record.WalletID, data)
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListOwnershipTransfers 按时间顺序返回钱包的所有权转移记录
func (s *BoltStore) ListOwnershipTransfers(ctx context.Context, walletID string) ([]*models.OwnershipTransfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]*models.OwnershipTransfer, 0)
	err := s.view("读取所有权记录失败", func(tx *bolt.Tx) error {
		group := tx.Bucket([]byte(OwnershipBucket)).Bucket([]byte(walletID))
		if group == nil {
			return nil
		}
		return group.ForEach(func(k, v []byte) error {
			var r models.OwnershipTransfer
			if err := json.Unmarshal(v, &r); err != nil {
				return corruptRecord(OwnershipBucket, walletID, err)
			}
			records = append(records, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("关闭钱包数据库")
	return s.db.Close()
}

// Path 数据库文件路径
func (s *BoltStore) Path() string {
	return s.dbPath
}

func (s *BoltStore) update(message string, fn func(tx *bolt.Tx) error) error {
	return wrapStorage(s.db.Update(fn), message)
}

func (s *BoltStore) view(message string, fn func(tx *bolt.Tx) error) error {
	return wrapStorage(s.db.View(fn), message)
}

// wrapStorage 业务错误原样返回，其余包装为存储错误
func wrapStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := werrors.As(err); ok {
		return err
	}
	return werrors.ErrStorage(err, message).WithComponent("store")
}

func mutateWallet(tx *bolt.Tx, walletID string, wallet *models.Wallet, mutate func(*models.Wallet) error) error {
	bucket := tx.Bucket([]byte(WalletsBucket))
	if err := getJSON(bucket, walletID, wallet, werrors.ErrWalletNotFound); err != nil {
		return err
	}
	if err := mutate(wallet); err != nil {
		return err
	}
	if wallet.WalletID != walletID {
		return fmt.Errorf("不允许修改钱包ID")
	}
	return putJSON(bucket, walletID, wallet)
}

// appendIndex 在 root/group 子桶中按自增序号追加一条记录
func appendIndex(tx *bolt.Tx, root, group string, value []byte) error {
	bucket, err := tx.Bucket([]byte(root)).CreateBucketIfNotExists([]byte(group))
	if err != nil {
		return err
	}
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return bucket.Put(key, value)
}

func putJSON(bucket *bolt.Bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), data)
}

func getJSON(bucket *bolt.Bucket, key string, out interface{}, notFound func() *werrors.WalletError) error {
	data := bucket.Get([]byte(key))
	if data == nil {
		return notFound()
	}
	if err := json.Unmarshal(data, out); err != nil {
		return corruptRecord("record", key, err)
	}
	return nil
}

func corruptRecord(bucket, key string, err error) error {
	return werrors.WrapError(err, werrors.ErrorTypeStorage, werrors.SeverityCritical,
		werrors.CodeInvalidData, "存储记录已损坏").
		WithComponent("store").
		WithContext("bucket", bucket).
		WithContext("key", key)
}
